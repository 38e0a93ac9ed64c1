package strava

// TokenResponse is the payload of a successful refresh-token exchange. The
// RefreshToken field may differ from the one sent: Strava rotates refresh
// tokens, and a rotated value must be persisted before it is needed again.
type TokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    int64           `json:"expires_at"`
	Athlete      *AthleteSummary `json:"athlete,omitempty"`
}

// AthleteSummary carries the profile fields the pipeline backfills into the
// roster when an athlete's identity is missing.
type AthleteSummary struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

// Activity is the raw summary object returned by the activities endpoint.
// Distances are meters, durations seconds, timestamps ISO 8601.
type Activity struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	StartDate          string  `json:"start_date"`
	StartDateLocal     string  `json:"start_date_local"`
	Distance           float64 `json:"distance"`
	MovingTime         int64   `json:"moving_time"`
	ElapsedTime        int64   `json:"elapsed_time"`
	TotalElevationGain float64 `json:"total_elevation_gain"`
	AverageSpeed       float64 `json:"average_speed"`
	Calories           float64 `json:"calories"`
}
