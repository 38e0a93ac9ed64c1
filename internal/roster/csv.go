package roster

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
)

// CSVSource reads the roster from a local CSV file with the same header
// conventions as the sheet. Write-backs update the cell in memory and
// rewrite the whole file atomically.
type CSVSource struct {
	mu     sync.Mutex
	path   string
	schema Schema
	rows   [][]string // includes the header row
}

// NewCSVSource constructs a CSVSource for path. The file is read on Load.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Load implements Source.
func (s *CSVSource) Load(ctx context.Context) ([]Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("roster %s is empty", s.path)
	}

	schema, err := ResolveHeader(rows[0])
	if err != nil {
		return nil, err
	}
	s.schema = schema
	s.rows = rows

	subjects := make([]Subject, 0, len(rows)-1)
	for i, row := range rows[1:] {
		subjects = append(subjects, schema.Extract(i+2, row))
	}
	return subjects, nil
}

// WriteBack implements Source. Unknown fields (header had no alias) are
// ignored, matching the sheet behaviour.
func (s *CSVSource) WriteBack(ctx context.Context, rowIndex int, field Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.schema.Column(field)
	if col == 0 {
		return nil
	}
	i := rowIndex - 1 // rows includes the header at index 0
	if i <= 0 || i >= len(s.rows) {
		return fmt.Errorf("roster write-back: row %d out of range", rowIndex)
	}
	for len(s.rows[i]) < col {
		s.rows[i] = append(s.rows[i], "")
	}
	s.rows[i][col-1] = value

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(s.rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
