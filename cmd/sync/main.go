package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/stravasync/internal/checkpoint"
	"example.com/stravasync/internal/config"
	"example.com/stravasync/internal/ratelimit"
	"example.com/stravasync/internal/roster"
	"example.com/stravasync/internal/store"
	pgmirror "example.com/stravasync/internal/store/postgres"
	"example.com/stravasync/internal/strava"
	"example.com/stravasync/internal/syncer"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := buildRoster(ctx, cfg)
	if err != nil {
		log.Fatalf("roster: %v", err)
	}

	governor := ratelimit.NewGovernor(cfg.RateLimitBuffer, []ratelimit.Window{
		{Ceiling: cfg.ShortWindowLimit, Length: cfg.ShortWindow},
		{Ceiling: cfg.LongWindowLimit, Length: cfg.LongWindow},
	})
	client := strava.NewClient(strava.ClientConfig{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		Timeout:      cfg.HTTPTimeout,
		MaxRetries:   cfg.MaxRetries,
		InitialSleep: cfg.InitialRetrySleep,
	}, governor)

	checkpoints := checkpoint.NewStore(cfg.CheckpointFile)
	records := store.Open(cfg.JSONPath())

	opts := []syncer.Option{}
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		mirror := pgmirror.NewMirror(pool)
		if err := mirror.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
		opts = append(opts, syncer.WithMirror(mirror))
	}

	orchestrator := syncer.New(client, source, checkpoints, records, syncer.Config{
		BatchSize:       cfg.BatchSize,
		PerPage:         cfg.PerPage,
		DefaultLookback: cfg.DefaultLookback,
		PauseMin:        cfg.SubjectPauseMin,
		PauseMax:        cfg.SubjectPauseMax,
		CSVPath:         cfg.CSVPath(),
		SQLPath:         cfg.SQLPath(),
	}, opts...)

	summary, err := orchestrator.Run(ctx)
	if err != nil {
		log.Fatalf("sync run failed: %v", err)
	}
	log.Printf("run %s complete: batch=%d processed=%d skipped=%d fetched=%d",
		summary.RunID, summary.BatchIndex, summary.Processed, summary.Skipped, summary.Fetched)
}

// buildRoster picks the Sheets source when a sheet is configured, else the
// local CSV roster.
func buildRoster(ctx context.Context, cfg config.Config) (roster.Source, error) {
	if cfg.SheetURL != "" && cfg.GoogleCredsJSON != "" {
		return roster.NewSheetsSource(ctx, []byte(cfg.GoogleCredsJSON), cfg.SheetURL)
	}
	if cfg.RosterCSVPath != "" {
		return roster.NewCSVSource(cfg.RosterCSVPath), nil
	}
	return nil, config.ErrMissingRoster
}
