// Package ratelimit tracks outbound request volume against the Strava API
// rate ceilings and blocks callers before a window would overflow.
package ratelimit

import (
	"log"
	"sync"
	"time"

	"example.com/stravasync/internal/observability"
)

// Window declares one rate ceiling: at most Ceiling requests inside any
// interval of Length. The pipeline runs a 15-minute and an hourly window
// simultaneously; either can be the binding constraint.
type Window struct {
	Ceiling int
	Length  time.Duration
}

type windowState struct {
	Window
	stamps []time.Time
}

// Governor admits requests only while every configured window stays below
// its ceiling. It is safe for concurrent use; correctness depends on a
// globally consistent view of recent request timestamps, so there is one
// Governor per process, passed by reference to every caller.
type Governor struct {
	mu      sync.Mutex
	buffer  time.Duration
	windows []*windowState
	logger  *log.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// Option configures optional behaviour for the Governor.
type Option func(*Governor)

// WithLogger overrides the logger used to report waits.
func WithLogger(logger *log.Logger) Option {
	return func(g *Governor) {
		g.logger = logger
	}
}

// WithClock overrides the time source and sleep function so tests can run
// without real waiting.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(g *Governor) {
		g.now = now
		g.sleep = sleep
	}
}

// NewGovernor constructs a Governor with the given safety buffer and windows.
func NewGovernor(buffer time.Duration, windows []Window, opts ...Option) *Governor {
	g := &Governor{
		buffer: buffer,
		logger: log.New(log.Writer(), "[ratelimit] ", log.LstdFlags),
		now:    time.Now,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, w := range windows {
		// A window with no capacity could never admit a request;
		// drop it instead of wedging every caller.
		if w.Ceiling <= 0 {
			g.logger.Printf("ignoring window %v with non-positive ceiling %d", w.Length, w.Ceiling)
			continue
		}
		g.windows = append(g.windows, &windowState{Window: w})
	}
	return g
}

// Admit blocks until sending one request keeps every window under its
// ceiling. Windows are pruned before the decision; when several windows are
// at capacity the latest deadline wins.
func (g *Governor) Admit() {
	g.mu.Lock()
	now := g.now()
	g.prune(now)

	var waitUntil time.Time
	for _, w := range g.windows {
		if len(w.stamps) >= w.Ceiling {
			candidate := w.stamps[0].Add(w.Length + g.buffer)
			if candidate.After(waitUntil) {
				waitUntil = candidate
			}
		}
	}
	g.mu.Unlock()

	if waitUntil.IsZero() || !waitUntil.After(now) {
		return
	}
	d := waitUntil.Sub(now)
	g.logger.Printf("sleeping %.1fs to respect rate limits", d.Seconds())
	observability.ObserveGovernorWait(d)
	g.sleep(d)
}

// Record notes one request that actually left the process. Callers must not
// record sends that never reached the network.
func (g *Governor) Record() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for _, w := range g.windows {
		w.stamps = append(w.stamps, now)
	}
	g.prune(now)
}

// Backoff reacts to an explicit rate-limit directive from the server,
// sleeping for the requested duration plus the safety buffer regardless of
// local window state.
func (g *Governor) Backoff(d time.Duration) {
	total := d + g.buffer
	g.logger.Printf("server rate-limit directive: sleeping %.0fs", total.Seconds())
	observability.ObserveGovernorWait(total)
	g.sleep(total)
}

// prune evicts timestamps older than each window's length. Callers hold mu.
func (g *Governor) prune(now time.Time) {
	for _, w := range g.windows {
		cutoff := now.Add(-w.Length)
		i := 0
		for i < len(w.stamps) && w.stamps[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			w.stamps = append(w.stamps[:0], w.stamps[i:]...)
		}
	}
}
