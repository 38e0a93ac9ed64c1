// Package store owns the deduplicated activity collection and its exports.
// Dedup by activity ID lives here and only here; exporters render the same
// snapshot and never re-reduce.
package store

import (
	"encoding/json"
	"log"
	"os"
	"sort"
	"sync"

	"example.com/stravasync/internal/domain"
	"example.com/stravasync/internal/observability"
)

// MergeStore is the persistent, last-write-wins collection of normalized
// activity records. The JSON record file at path is both the durable state
// and the record-oriented export.
type MergeStore struct {
	mu      sync.Mutex
	path    string
	records map[int64]domain.ActivityRecord
	logger  *log.Logger
}

// Option configures optional behaviour for the MergeStore.
type Option func(*MergeStore)

// WithLogger overrides the logger used to report load problems.
func WithLogger(logger *log.Logger) Option {
	return func(s *MergeStore) {
		s.logger = logger
	}
}

// Open loads the prior record file into memory. A missing file yields an
// empty store; an unreadable or corrupt file is logged and the run proceeds
// with only newly fetched records — visible data loss, never a fatal error.
func Open(path string, opts ...Option) *MergeStore {
	s := &MergeStore{
		path:    path,
		records: make(map[int64]domain.ActivityRecord),
		logger:  log.New(log.Writer(), "[store] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Printf("read %s: %v (continuing with empty store)", path, err)
		}
		return s
	}
	var prior []domain.ActivityRecord
	if err := json.Unmarshal(data, &prior); err != nil {
		s.logger.Printf("parse %s: %v (continuing with empty store)", path, err)
		return s
	}
	for _, rec := range prior {
		s.records[rec.ActivityID] = rec
	}
	return s
}

// Upsert merges records into the store, most-recently-supplied wins per
// activity ID. Re-fetching an ID overwrites, never duplicates.
func (s *MergeStore) Upsert(records []domain.ActivityRecord) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	for _, rec := range records {
		s.records[rec.ActivityID] = rec
		if ts := rec.StartedAtUTC(); !ts.IsZero() {
			observability.RecordActivityWatermark(ts)
		}
	}
	s.mu.Unlock()
	observability.RecordMerged(len(records))
}

// Len reports the number of distinct activities held.
func (s *MergeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns all records ordered by activity ID. Every export format
// is derived from this one view.
func (s *MergeStore) Snapshot() []domain.ActivityRecord {
	s.mu.Lock()
	out := make([]domain.ActivityRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityID < out[j].ActivityID })
	return out
}

// Flush persists the store to its JSON record file atomically.
func (s *MergeStore) Flush() error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
