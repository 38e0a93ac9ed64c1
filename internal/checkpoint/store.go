// Package checkpoint persists resumable sync state: the batch cursor and a
// per-athlete map of rotated refresh tokens and activity watermarks.
package checkpoint

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// SubjectState is the durable per-athlete slice of the checkpoint.
type SubjectState struct {
	RefreshToken   string    `json:"refresh_token,omitempty"`
	Name           string    `json:"name,omitempty"`
	LastActivityTS time.Time `json:"last_activity_ts,omitzero"` // max UTC start seen, not write time
	LastSeenAt     time.Time `json:"last_seen_at,omitzero"`
}

// Checkpoint is the process-wide durable state. A fresh value is a valid
// empty checkpoint.
type Checkpoint struct {
	LastBatchIndex int                      `json:"last_batch_index"`
	Athletes       map[string]*SubjectState `json:"athletes"`
}

// New returns an empty checkpoint.
func New() *Checkpoint {
	return &Checkpoint{Athletes: make(map[string]*SubjectState)}
}

// Subject returns the state for key, creating it when absent.
func (c *Checkpoint) Subject(key string) *SubjectState {
	if c.Athletes == nil {
		c.Athletes = make(map[string]*SubjectState)
	}
	st, ok := c.Athletes[key]
	if !ok {
		st = &SubjectState{}
		c.Athletes[key] = st
	}
	return st
}

// Store reads and writes the checkpoint file.
type Store struct {
	path   string
	logger *log.Logger
}

// Option configures optional behaviour for the Store.
type Option func(*Store)

// WithLogger overrides the logger used to report load problems.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore constructs a Store persisting to path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: log.New(log.Writer(), "[checkpoint] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted checkpoint, or a fresh empty one when the file
// is missing or malformed. It never fails the caller.
func (s *Store) Load() *Checkpoint {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Printf("read %s: %v (starting fresh)", s.path, err)
		}
		return New()
	}
	cp := New()
	if err := json.Unmarshal(data, cp); err != nil {
		s.logger.Printf("parse %s: %v (starting fresh)", s.path, err)
		return New()
	}
	if cp.Athletes == nil {
		cp.Athletes = make(map[string]*SubjectState)
	}
	return cp
}

// Save writes the checkpoint atomically: a sibling temp file is written in
// full and renamed over the real path, so a concurrent reader never observes
// a partial file. It is called after every athlete, so a crash loses at most
// the in-flight athlete's progress.
func (s *Store) Save(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
