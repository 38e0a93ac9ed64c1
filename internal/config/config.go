// Package config centralises configuration parsing for the sync pipeline.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config captures runtime configuration values shared by the sync, webhook
// and seed binaries.
type Config struct {
	StravaClientID     string
	StravaClientSecret string

	SheetURL        string // Google Sheet holding the athlete roster.
	GoogleCredsJSON string // Service-account JSON used for the Sheets API.
	RosterCSVPath   string // Local CSV roster; used when no sheet is configured.

	CheckpointFile string
	OutputDir      string
	PostgresURL    string // Optional relational mirror; empty disables it.

	BatchSize int
	PerPage   int

	MaxRetries        int
	InitialRetrySleep time.Duration
	HTTPTimeout       time.Duration

	ShortWindowLimit int           // Requests allowed per short window.
	ShortWindow      time.Duration // 15 minutes on the Strava side.
	LongWindowLimit  int
	LongWindow       time.Duration
	RateLimitBuffer  time.Duration

	SubjectPauseMin time.Duration // Jittered pause between athletes.
	SubjectPauseMax time.Duration

	DefaultLookback time.Duration // Fetch horizon for athletes with no cursor.

	HTTPAddress string // Webhook listen address.
	VerifyToken string // Strava webhook subscription verify token.
}

var (
	// ErrMissingCredentials is returned by Validate when the Strava
	// application credentials are absent; nothing can authenticate
	// without them.
	ErrMissingCredentials = errors.New("STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET must be set")
	// ErrMissingRoster is reported when neither a sheet nor a CSV roster
	// is configured.
	ErrMissingRoster = errors.New("set SHEET_URL and GOOGLE_SHEETS_JSON, or ROSTER_CSV")
)

// Load reads environment variables into Config, applying the defaults the
// pipeline has always shipped with.
func Load() Config {
	return Config{
		StravaClientID:     getEnv("STRAVA_CLIENT_ID", ""),
		StravaClientSecret: getEnv("STRAVA_CLIENT_SECRET", ""),
		SheetURL:           getEnv("SHEET_URL", ""),
		GoogleCredsJSON:    getEnv("GOOGLE_SHEETS_JSON", ""),
		RosterCSVPath:      getEnv("ROSTER_CSV", ""),
		CheckpointFile:     getEnv("CHECKPOINT_FILE", "strava_checkpoint.json"),
		OutputDir:          getEnv("OUTPUT_DIR", "strava_output"),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		BatchSize:          getIntEnv("BATCH_SIZE", 50),
		PerPage:            getIntEnv("STRAVA_PER_PAGE", 100),
		MaxRetries:         getIntEnv("MAX_RETRIES", 5),
		InitialRetrySleep:  getDurationEnv("INITIAL_RETRY_SLEEP", 5*time.Second),
		HTTPTimeout:        getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		ShortWindowLimit:   getIntEnv("RATE_LIMIT_15MIN", 100),
		ShortWindow:        getDurationEnv("RATE_WINDOW_15MIN", 15*time.Minute),
		LongWindowLimit:    getIntEnv("RATE_LIMIT_1H", 300),
		LongWindow:         getDurationEnv("RATE_WINDOW_1H", time.Hour),
		RateLimitBuffer:    getDurationEnv("RATE_LIMIT_BUFFER", 2*time.Second),
		SubjectPauseMin:    getDurationEnv("SUBJECT_PAUSE_MIN", time.Second),
		SubjectPauseMax:    getDurationEnv("SUBJECT_PAUSE_MAX", 1500*time.Millisecond),
		DefaultLookback:    getDurationEnv("DEFAULT_LOOKBACK", 30*24*time.Hour),
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":5000"),
		VerifyToken:        getEnv("VERIFY_TOKEN", "test-verify-token"),
	}
}

// Validate reports whether the configuration is sufficient to start a run.
func (c Config) Validate() error {
	if c.StravaClientID == "" || c.StravaClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// CSVPath returns the tabular export path under the output directory.
func (c Config) CSVPath() string {
	return filepath.Join(c.OutputDir, "all_athletes_activities.csv")
}

// JSONPath returns the record-file export path under the output directory.
func (c Config) JSONPath() string {
	return filepath.Join(c.OutputDir, "all_athletes_activities.json")
}

// SQLPath returns the relational dump path under the output directory.
func (c Config) SQLPath() string {
	return filepath.Join(c.OutputDir, "all_athletes_activities.sql")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
