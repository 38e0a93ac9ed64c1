package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/stravasync/internal/domain"
)

func TestExportCSVHeaderAndRows(t *testing.T) {
	s := newTestStore(t)
	s.Upsert([]domain.ActivityRecord{
		testRecord(102, "Lunch Run", 8000),
		testRecord(101, "Morning Ride", 25000),
	})

	path := filepath.Join(t.TempDir(), "activities.csv")
	require.NoError(t, s.ExportCSV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, columns, rows[0])
	require.Equal(t, "101", rows[1][2])
	require.Equal(t, "102", rows[2][2])
	require.Equal(t, "25", rows[1][8]) // distance_km
}

func TestExportSQLDump(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord(101, "Alice's Big Day", 25000)
	s.Upsert([]domain.ActivityRecord{rec})

	path := filepath.Join(t.TempDir(), "activities.sql")
	require.NoError(t, s.ExportSQL(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	dump := string(data)

	require.Contains(t, dump, "CREATE TABLE IF NOT EXISTS activities")
	require.Contains(t, dump, "activity_id INTEGER PRIMARY KEY")
	// Embedded quotes are doubled, never escaped with backslashes.
	require.Contains(t, dump, "'Alice''s Big Day'")
	require.Equal(t, 1, strings.Count(dump, "INSERT OR REPLACE INTO activities"))
}

func TestExportsDeriveFromSameSnapshot(t *testing.T) {
	s := newTestStore(t)
	s.Upsert([]domain.ActivityRecord{
		testRecord(101, "Morning Ride", 25000),
		testRecord(102, "Lunch Run", 8000),
		testRecord(103, "Evening Swim", 2000),
	})
	// Overwrite one record so exports must reflect the merged view.
	s.Upsert([]domain.ActivityRecord{testRecord(102, "Long Lunch Run", 12000)})

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "activities.csv")
	sqlPath := filepath.Join(dir, "activities.sql")
	require.NoError(t, s.ExportCSV(csvPath))
	require.NoError(t, s.ExportSQL(sqlPath))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4) // header + 3 distinct activities
	require.Equal(t, "Long Lunch Run", rows[2][3])

	data, err := os.ReadFile(sqlPath)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(string(data), "INSERT OR REPLACE"))
	require.NotContains(t, string(data), "'Lunch Run'")
}
