// Package postgres mirrors the merge store into a relational table. The
// mirror replays snapshot rows verbatim; last-write-wins dedup stays in the
// merge store, the upsert here only keeps the table in step with it.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"example.com/stravasync/internal/domain"
)

// Querier is the minimal pgxpool.Pool surface the mirror needs.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Mirror writes activity records to Postgres.
type Mirror struct {
	db Querier
}

// NewMirror constructs a Mirror.
func NewMirror(db Querier) *Mirror {
	return &Mirror{db: db}
}

// EnsureSchema creates the activities table when absent.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS activities (
        activity_id BIGINT PRIMARY KEY,
        athlete_id TEXT,
        athlete_name TEXT,
        name TEXT,
        type TEXT,
        start_date_local TEXT,
        start_date_utc TEXT,
        distance_m DOUBLE PRECISION,
        distance_km DOUBLE PRECISION,
        moving_time_s BIGINT,
        elapsed_time_s BIGINT,
        total_elevation_gain_m DOUBLE PRECISION,
        average_speed_mps DOUBLE PRECISION,
        calories DOUBLE PRECISION,
        fetched_at_utc TIMESTAMPTZ
    )`
	_, err := m.db.Exec(ctx, stmt)
	return err
}

// Replay upserts records keyed on activity_id.
func (m *Mirror) Replay(ctx context.Context, records []domain.ActivityRecord) error {
	const stmt = `INSERT INTO activities (
        activity_id, athlete_id, athlete_name, name, type,
        start_date_local, start_date_utc, distance_m, distance_km,
        moving_time_s, elapsed_time_s, total_elevation_gain_m,
        average_speed_mps, calories, fetched_at_utc
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
    ON CONFLICT (activity_id) DO UPDATE SET
        athlete_id=EXCLUDED.athlete_id,
        athlete_name=EXCLUDED.athlete_name,
        name=EXCLUDED.name,
        type=EXCLUDED.type,
        start_date_local=EXCLUDED.start_date_local,
        start_date_utc=EXCLUDED.start_date_utc,
        distance_m=EXCLUDED.distance_m,
        distance_km=EXCLUDED.distance_km,
        moving_time_s=EXCLUDED.moving_time_s,
        elapsed_time_s=EXCLUDED.elapsed_time_s,
        total_elevation_gain_m=EXCLUDED.total_elevation_gain_m,
        average_speed_mps=EXCLUDED.average_speed_mps,
        calories=EXCLUDED.calories,
        fetched_at_utc=EXCLUDED.fetched_at_utc`

	for _, rec := range records {
		_, err := m.db.Exec(ctx, stmt,
			rec.ActivityID,
			rec.AthleteID,
			rec.AthleteName,
			rec.Name,
			rec.Type,
			rec.StartDateLocal,
			rec.StartDateUTC,
			rec.DistanceM,
			rec.DistanceKM,
			rec.MovingTimeS,
			rec.ElapsedTimeS,
			rec.ElevationGainM,
			rec.AvgSpeedMPS,
			rec.Calories,
			rec.FetchedAtUTC,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
