package domain

import (
	"time"

	"example.com/stravasync/internal/strava"
)

// Normalize flattens a raw Strava activity into the canonical record shape.
// This is the only place the derived kilometre value is computed; exporters
// must not recompute it.
func Normalize(act strava.Activity, athleteID, athleteName string, fetchedAt time.Time) ActivityRecord {
	return ActivityRecord{
		AthleteID:      athleteID,
		AthleteName:    athleteName,
		ActivityID:     act.ID,
		Name:           act.Name,
		Type:           act.Type,
		StartDateLocal: act.StartDateLocal,
		StartDateUTC:   act.StartDate,
		DistanceM:      act.Distance,
		DistanceKM:     RoundKM(act.Distance),
		MovingTimeS:    act.MovingTime,
		ElapsedTimeS:   act.ElapsedTime,
		ElevationGainM: act.TotalElevationGain,
		AvgSpeedMPS:    act.AverageSpeed,
		Calories:       act.Calories,
		FetchedAtUTC:   fetchedAt.UTC(),
	}
}
