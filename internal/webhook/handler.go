// Package webhook maps Strava webhook events onto the same merge path the
// batch sync uses: resolve the owner's credential, fetch the named activity,
// normalize it and upsert it.
package webhook

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"example.com/stravasync/internal/checkpoint"
	"example.com/stravasync/internal/domain"
	"example.com/stravasync/internal/store"
	"example.com/stravasync/internal/strava"
)

// Event is the push payload Strava delivers for subscription events.
type Event struct {
	ObjectType string `json:"object_type"`
	AspectType string `json:"aspect_type"`
	ObjectID   int64  `json:"object_id"`
	OwnerID    int64  `json:"owner_id"`
}

// API is the Strava surface the handler consumes.
type API interface {
	Exchange(ctx context.Context, refreshToken string) (*strava.TokenResponse, error)
	FetchActivity(ctx context.Context, accessToken string, activityID int64) (*strava.Activity, error)
}

// Handler serves subscription verification and event ingestion. Its
// checkpoint file keys athletes by Strava athlete ID (seeded by cmd/seed),
// unlike the batch checkpoint's roster-position keys.
type Handler struct {
	api         API
	checkpoints *checkpoint.Store
	records     *store.MergeStore
	verifyToken string
	csvPath     string
	sqlPath     string
	logger      *log.Logger
	now         func() time.Time

	// mu serializes ingestion. The checkpoint is load-modify-save and the
	// export files share temp siblings; an overlapping delivery must not
	// persist a snapshot loaded before another delivery's save, or a
	// rotated refresh token would be silently erased.
	mu sync.Mutex
}

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithLogger overrides the logger used to report event handling.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a Handler.
func NewHandler(api API, checkpoints *checkpoint.Store, records *store.MergeStore, verifyToken, csvPath, sqlPath string, opts ...Option) *Handler {
	h := &Handler{
		api:         api,
		checkpoints: checkpoints,
		records:     records,
		verifyToken: verifyToken,
		csvPath:     csvPath,
		sqlPath:     sqlPath,
		logger:      log.New(log.Writer(), "[webhook] ", log.LstdFlags),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/strava-webhook", h.webhook)
	mux.HandleFunc("/healthz", healthz)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.receive(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// verify answers the subscription handshake by echoing hub.challenge when
// the verify token matches.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.verify_token") != h.verifyToken {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "verify token mismatch"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": q.Get("hub.challenge")})
}

// receive acknowledges every well-formed event with 200 so Strava does not
// re-deliver; processing problems are logged, not surfaced.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to parse body"})
		return
	}

	if event.ObjectType != "activity" || (event.AspectType != "create" && event.AspectType != "update") {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.ingest(r, event); err != nil {
		h.logger.Printf("event activity=%d owner=%d: %v", event.ObjectID, event.OwnerID, err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "error logged"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ingest(r *http.Request, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	ownerKey := strconv.FormatInt(event.OwnerID, 10)

	cp := h.checkpoints.Load()
	state, ok := cp.Athletes[ownerKey]
	if !ok || state.RefreshToken == "" {
		return errNotSeeded(ownerKey)
	}

	token, err := h.api.Exchange(ctx, state.RefreshToken)
	if err != nil {
		return err
	}
	if token.RefreshToken != "" && token.RefreshToken != state.RefreshToken {
		state.RefreshToken = token.RefreshToken
		if err := h.checkpoints.Save(cp); err != nil {
			h.logger.Printf("PERSISTENCE FAILURE saving rotated token for %s: %v", ownerKey, err)
		}
	}

	act, err := h.api.FetchActivity(ctx, token.AccessToken, event.ObjectID)
	if err != nil {
		return err
	}

	name := state.Name
	if name == "" {
		name = ownerKey
	}
	now := h.now().UTC()
	rec := domain.Normalize(*act, ownerKey, name, now)
	h.records.Upsert([]domain.ActivityRecord{rec})

	if err := h.records.Flush(); err != nil {
		h.logger.Printf("PERSISTENCE FAILURE flushing record file: %v", err)
	}
	if h.csvPath != "" {
		if err := h.records.ExportCSV(h.csvPath); err != nil {
			h.logger.Printf("PERSISTENCE FAILURE writing CSV: %v", err)
		}
	}
	if h.sqlPath != "" {
		if err := h.records.ExportSQL(h.sqlPath); err != nil {
			h.logger.Printf("PERSISTENCE FAILURE writing SQL dump: %v", err)
		}
	}

	if ts := rec.StartedAtUTC(); ts.After(state.LastActivityTS) {
		state.LastActivityTS = ts
	}
	state.LastSeenAt = now
	if err := h.checkpoints.Save(cp); err != nil {
		h.logger.Printf("PERSISTENCE FAILURE saving checkpoint: %v", err)
	}
	return nil
}

type errNotSeeded string

func (e errNotSeeded) Error() string {
	return "no refresh token seeded for athlete " + string(e)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
