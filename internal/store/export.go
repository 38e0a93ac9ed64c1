package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/stravasync/internal/domain"
)

var columns = []string{
	"athlete_id", "athlete_name", "activity_id", "name", "type",
	"start_date_local", "start_date_utc", "distance_m", "distance_km",
	"moving_time_s", "elapsed_time_s", "total_elevation_gain_m",
	"average_speed_mps", "calories", "fetched_at_utc",
}

// ExportCSV writes the tabular view: one header row, the same columns for
// every record, atomically replaced.
func (s *MergeStore) ExportCSV(path string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return err
	}
	for _, rec := range s.Snapshot() {
		if err := w.Write(csvRow(rec)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

// ExportSQL writes the relational dump: a create-table statement followed by
// one INSERT OR REPLACE per record, keyed on activity_id.
func (s *MergeStore) ExportSQL(path string) error {
	var buf bytes.Buffer
	buf.WriteString("-- SQL dump generated by stravasync\n")
	buf.WriteString(`CREATE TABLE IF NOT EXISTS activities (
   athlete_id TEXT, athlete_name TEXT, activity_id INTEGER PRIMARY KEY, name TEXT, type TEXT,
   start_date_local TEXT, start_date_utc TEXT, distance_m REAL, distance_km REAL,
   moving_time_s INTEGER, elapsed_time_s INTEGER, total_elevation_gain_m REAL,
   average_speed_mps REAL, calories REAL, fetched_at_utc TEXT
);
`)
	for _, rec := range s.Snapshot() {
		fmt.Fprintf(&buf, "INSERT OR REPLACE INTO activities VALUES (%s, %s, %d, %s, %s, %s, %s, %s, %s, %d, %d, %s, %s, %s, %s);\n",
			sqlString(rec.AthleteID),
			sqlString(rec.AthleteName),
			rec.ActivityID,
			sqlString(rec.Name),
			sqlString(rec.Type),
			sqlString(rec.StartDateLocal),
			sqlString(rec.StartDateUTC),
			sqlFloat(rec.DistanceM),
			sqlFloat(rec.DistanceKM),
			rec.MovingTimeS,
			rec.ElapsedTimeS,
			sqlFloat(rec.ElevationGainM),
			sqlFloat(rec.AvgSpeedMPS),
			sqlFloat(rec.Calories),
			sqlString(rec.FetchedAtUTC.UTC().Format(time.RFC3339)),
		)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func csvRow(rec domain.ActivityRecord) []string {
	return []string{
		rec.AthleteID,
		rec.AthleteName,
		strconv.FormatInt(rec.ActivityID, 10),
		rec.Name,
		rec.Type,
		rec.StartDateLocal,
		rec.StartDateUTC,
		formatFloat(rec.DistanceM),
		formatFloat(rec.DistanceKM),
		strconv.FormatInt(rec.MovingTimeS, 10),
		strconv.FormatInt(rec.ElapsedTimeS, 10),
		formatFloat(rec.ElevationGainM),
		formatFloat(rec.AvgSpeedMPS),
		formatFloat(rec.Calories),
		rec.FetchedAtUTC.UTC().Format(time.RFC3339),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sqlString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func sqlFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
