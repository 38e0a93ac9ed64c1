package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/stravasync/internal/checkpoint"
	"example.com/stravasync/internal/config"
	"example.com/stravasync/internal/ratelimit"
	"example.com/stravasync/internal/store"
	"example.com/stravasync/internal/strava"
	httptransport "example.com/stravasync/internal/transport/http"
	"example.com/stravasync/internal/webhook"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
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

	handler := webhook.NewHandler(client, checkpoints, records, cfg.VerifyToken, cfg.CSVPath(), cfg.SQLPath())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  60 * time.Second,
	}, logger(mux))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("webhook receiver listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
