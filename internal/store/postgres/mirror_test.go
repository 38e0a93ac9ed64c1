package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"example.com/stravasync/internal/domain"
)

type execCall struct {
	sql  string
	args []any
}

type stubQuerier struct {
	calls []execCall
	err   error
}

func (q *stubQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.calls = append(q.calls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, q.err
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	q := &stubQuerier{}
	m := NewMirror(q)

	require.NoError(t, m.EnsureSchema(context.Background()))
	require.Len(t, q.calls, 1)
	require.Contains(t, q.calls[0].sql, "CREATE TABLE IF NOT EXISTS activities")
	require.Contains(t, q.calls[0].sql, "activity_id BIGINT PRIMARY KEY")
}

func TestReplayUpsertsEveryRecord(t *testing.T) {
	q := &stubQuerier{}
	m := NewMirror(q)

	records := []domain.ActivityRecord{
		{
			AthleteID:    "42",
			AthleteName:  "Alice Rider",
			ActivityID:   101,
			Name:         "Morning Ride",
			Type:         "Ride",
			DistanceM:    25000,
			DistanceKM:   25,
			MovingTimeS:  3600,
			FetchedAtUTC: time.Date(2025, time.July, 15, 0, 0, 0, 0, time.UTC),
		},
		{ActivityID: 102, Name: "Lunch Run"},
	}
	require.NoError(t, m.Replay(context.Background(), records))

	require.Len(t, q.calls, 2)
	require.Contains(t, q.calls[0].sql, "ON CONFLICT (activity_id) DO UPDATE")
	require.Len(t, q.calls[0].args, 15)
	require.Equal(t, int64(101), q.calls[0].args[0])
	require.Equal(t, "Alice Rider", q.calls[0].args[2])
	require.Equal(t, int64(102), q.calls[1].args[0])
}

func TestReplayStopsOnFirstError(t *testing.T) {
	q := &stubQuerier{err: errors.New("connection reset")}
	m := NewMirror(q)

	err := m.Replay(context.Background(), []domain.ActivityRecord{
		{ActivityID: 101}, {ActivityID: 102},
	})
	require.Error(t, err)
	require.Len(t, q.calls, 1)
}
