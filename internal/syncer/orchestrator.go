// Package syncer walks a batch slice of the roster through the full
// credential → paginate → normalize → upsert → checkpoint pipeline.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"

	"example.com/stravasync/internal/checkpoint"
	"example.com/stravasync/internal/domain"
	"example.com/stravasync/internal/observability"
	"example.com/stravasync/internal/roster"
	"example.com/stravasync/internal/store"
	"example.com/stravasync/internal/strava"
)

// API is the Strava surface the orchestrator consumes.
type API interface {
	Exchange(ctx context.Context, refreshToken string) (*strava.TokenResponse, error)
	FetchAthlete(ctx context.Context, accessToken string) (*strava.AthleteSummary, error)
	ListActivities(ctx context.Context, accessToken string, after, before time.Time, perPage int) ([]strava.Activity, error)
}

// Mirror replays merged records into a relational sink.
type Mirror interface {
	Replay(ctx context.Context, records []domain.ActivityRecord) error
}

// Config contains the orchestrator tunables.
type Config struct {
	BatchSize       int
	PerPage         int
	DefaultLookback time.Duration // Horizon for athletes with no cursor yet.
	PauseMin        time.Duration // Jittered pause between athletes.
	PauseMax        time.Duration
	CSVPath         string
	SQLPath         string
}

// Summary reports what one run did.
type Summary struct {
	RunID      string
	BatchIndex int
	Processed  int
	Skipped    int
	Fetched    int
}

// Orchestrator composes broker, paginator, merge store and checkpoint over
// one batch slice per invocation. One athlete's failure never aborts the
// batch; only a roster load failure does.
type Orchestrator struct {
	api         API
	source      roster.Source
	checkpoints *checkpoint.Store
	records     *store.MergeStore
	mirror      Mirror // optional
	cfg         Config
	logger      *log.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// Option configures optional behaviour for the Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the logger used to report progress.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMirror attaches an optional relational sink.
func WithMirror(mirror Mirror) Option {
	return func(o *Orchestrator) {
		o.mirror = mirror
	}
}

// New constructs an Orchestrator.
func New(api API, source roster.Source, checkpoints *checkpoint.Store, records *store.MergeStore, cfg Config, opts ...Option) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	o := &Orchestrator{
		api:         api,
		source:      source,
		checkpoints: checkpoints,
		records:     records,
		cfg:         cfg,
		logger:      log.New(log.Writer(), "[syncer] ", log.LstdFlags),
		now:         time.Now,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes the current batch slice and advances the batch cursor,
// wrapping to zero after the last slice.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}

	subjects, err := o.source.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("load roster: %w", err)
	}

	cp := o.checkpoints.Load()
	batchIndex := cp.LastBatchIndex
	start := batchIndex * o.cfg.BatchSize
	if start >= len(subjects) {
		// Roster shrank since the cursor was written.
		batchIndex, start = 0, 0
	}
	end := start + o.cfg.BatchSize
	if end > len(subjects) {
		end = len(subjects)
	}
	summary.BatchIndex = batchIndex
	batch := subjects[start:end]
	o.logger.Printf("run %s: batch %d -> athletes %d..%d of %d", summary.RunID, batchIndex, start, end-1, len(subjects))

	for i, subject := range batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if o.processSubject(ctx, cp, subject, &summary) {
			summary.Processed++
			observability.RecordSubjectProcessed()
		} else {
			summary.Skipped++
			observability.RecordSubjectSkipped()
		}

		// Even a failed athlete records a last-seen timestamp so a
		// permanently broken credential is not retried in a tight loop.
		cp.Subject(subject.Key()).LastSeenAt = o.now().UTC()
		if err := o.checkpoints.Save(cp); err != nil {
			o.logger.Printf("PERSISTENCE FAILURE saving checkpoint after %s: %v", subject.Key(), err)
		}

		if i < len(batch)-1 {
			o.sleep(o.pause())
		}
	}

	next := batchIndex + 1
	if next*o.cfg.BatchSize >= len(subjects) {
		next = 0
	}
	cp.LastBatchIndex = next
	if err := o.checkpoints.Save(cp); err != nil {
		o.logger.Printf("PERSISTENCE FAILURE saving batch cursor: %v", err)
	}

	o.logger.Printf("run %s: done. processed=%d skipped=%d fetched=%d next_batch=%d",
		summary.RunID, summary.Processed, summary.Skipped, summary.Fetched, next)
	return summary, nil
}

// processSubject walks one athlete through the pipeline. It reports whether
// the athlete completed; failures are contained here and logged.
func (o *Orchestrator) processSubject(ctx context.Context, cp *checkpoint.Checkpoint, subject roster.Subject, summary *Summary) bool {
	key := subject.Key()
	state := cp.Subject(key)
	state.Name = subject.DisplayName()

	refreshToken := state.RefreshToken
	if refreshToken == "" {
		refreshToken = subject.RefreshToken
	}
	if refreshToken == "" {
		o.logger.Printf("%s: no refresh token; skipping", key)
		return false
	}

	token, err := o.api.Exchange(ctx, refreshToken)
	if err != nil {
		var authErr *strava.AuthError
		if errors.As(err, &authErr) {
			o.logger.Printf("%s: auth failure: %v; skipping", key, authErr)
		} else {
			o.logger.Printf("%s: token exchange: %v; skipping", key, err)
		}
		return false
	}

	// Rotation must hit the checkpoint before the token could be needed
	// again; the roster mirror is best-effort.
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		state.RefreshToken = token.RefreshToken
		if err := o.checkpoints.Save(cp); err != nil {
			o.logger.Printf("PERSISTENCE FAILURE saving rotated token for %s: %v", key, err)
		}
		if err := o.source.WriteBack(ctx, subject.RowIndex, roster.FieldRefreshToken, token.RefreshToken); err != nil {
			o.logger.Printf("%s: roster write-back of rotated token: %v", key, err)
		}
	} else if state.RefreshToken == "" {
		state.RefreshToken = refreshToken
	}

	athleteID := subject.AthleteID
	if athleteID == "" {
		athleteID = o.backfillIdentity(ctx, subject, token)
	}

	now := o.now().UTC()
	after := state.LastActivityTS
	if after.IsZero() {
		after = now.Add(-o.cfg.DefaultLookback)
	}

	activities, err := o.api.ListActivities(ctx, token.AccessToken, after, now, o.cfg.PerPage)
	if err != nil {
		o.logger.Printf("%s: fetch activities: %v; skipping", key, err)
		return false
	}

	records := make([]domain.ActivityRecord, 0, len(activities))
	newest := state.LastActivityTS
	for _, act := range activities {
		rec := domain.Normalize(act, athleteID, subject.DisplayName(), now)
		records = append(records, rec)
		if ts := rec.StartedAtUTC(); ts.After(newest) {
			newest = ts
		}
	}

	o.records.Upsert(records)
	o.persistOutputs(ctx, key)

	// The cursor advances only on evidence: the max start time actually
	// fetched, never the wall-clock write time.
	if newest.After(state.LastActivityTS) {
		state.LastActivityTS = newest
	}

	summary.Fetched += len(records)
	o.logger.Printf("%s: fetched %d activities", key, len(records))
	return true
}

// backfillIdentity resolves a missing athlete ID from the token payload or
// the profile endpoint, mirroring what it finds into the roster.
func (o *Orchestrator) backfillIdentity(ctx context.Context, subject roster.Subject, token *strava.TokenResponse) string {
	profile := token.Athlete
	if profile == nil || profile.ID == 0 {
		fetched, err := o.api.FetchAthlete(ctx, token.AccessToken)
		if err != nil {
			o.logger.Printf("%s: profile backfill: %v", subject.Key(), err)
			return ""
		}
		profile = fetched
	}
	if profile.ID == 0 {
		return ""
	}

	id := strconv.FormatInt(profile.ID, 10)
	writebacks := []struct {
		field roster.Field
		value string
	}{
		{roster.FieldAthleteID, id},
		{roster.FieldFirstname, profile.Firstname},
		{roster.FieldLastname, profile.Lastname},
		{roster.FieldUsername, profile.Username},
	}
	for _, wb := range writebacks {
		if wb.value == "" {
			continue
		}
		if err := o.source.WriteBack(ctx, subject.RowIndex, wb.field, wb.value); err != nil {
			o.logger.Printf("%s: roster write-back of %s: %v", subject.Key(), wb.field, err)
		}
	}
	return id
}

// persistOutputs flushes the merge store and re-derives every export. A
// write failure leaves the previous good file intact (writes are atomic)
// and is logged loudly rather than aborting the batch.
func (o *Orchestrator) persistOutputs(ctx context.Context, key string) {
	if err := o.records.Flush(); err != nil {
		o.logger.Printf("PERSISTENCE FAILURE flushing record file after %s: %v", key, err)
	}
	if o.cfg.CSVPath != "" {
		if err := o.records.ExportCSV(o.cfg.CSVPath); err != nil {
			o.logger.Printf("PERSISTENCE FAILURE writing CSV after %s: %v", key, err)
		}
	}
	if o.cfg.SQLPath != "" {
		if err := o.records.ExportSQL(o.cfg.SQLPath); err != nil {
			o.logger.Printf("PERSISTENCE FAILURE writing SQL dump after %s: %v", key, err)
		}
	}
	if o.mirror != nil {
		if err := o.mirror.Replay(ctx, o.records.Snapshot()); err != nil {
			o.logger.Printf("PERSISTENCE FAILURE replaying to mirror after %s: %v", key, err)
		}
	}
}

func (o *Orchestrator) pause() time.Duration {
	if o.cfg.PauseMax <= o.cfg.PauseMin {
		return o.cfg.PauseMin
	}
	return o.cfg.PauseMin + rand.N(o.cfg.PauseMax-o.cfg.PauseMin)
}
