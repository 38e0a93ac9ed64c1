// Package domain defines the canonical activity record shared by the
// fetch, merge and export layers.
package domain

import (
	"math"
	"time"
)

// ActivityRecord is the normalized form of one Strava activity. ActivityID
// is globally unique across athletes and is the sole deduplication key.
type ActivityRecord struct {
	AthleteID      string    `json:"athlete_id"`
	AthleteName    string    `json:"athlete_name"`
	ActivityID     int64     `json:"activity_id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	StartDateLocal string    `json:"start_date_local"`
	StartDateUTC   string    `json:"start_date_utc"`
	DistanceM      float64   `json:"distance_m"`
	DistanceKM     float64   `json:"distance_km"`
	MovingTimeS    int64     `json:"moving_time_s"`
	ElapsedTimeS   int64     `json:"elapsed_time_s"`
	ElevationGainM float64   `json:"total_elevation_gain_m"`
	AvgSpeedMPS    float64   `json:"average_speed_mps"`
	Calories       float64   `json:"calories"`
	FetchedAtUTC   time.Time `json:"fetched_at_utc"`
}

// StartedAtUTC parses the record's UTC start timestamp. The zero time is
// returned when the upstream payload carried no usable value.
func (r ActivityRecord) StartedAtUTC() time.Time {
	ts, err := time.Parse(time.RFC3339, r.StartDateUTC)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// RoundKM converts meters to kilometers rounded to two decimals. The rounded
// value is computed exactly once, at ingestion, so every exporter agrees.
func RoundKM(meters float64) float64 {
	return math.Round(meters/10) / 100
}
