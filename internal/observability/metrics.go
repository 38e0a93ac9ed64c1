// Package observability exposes Prometheus collectors shared by the sync
// pipeline and the webhook receiver.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Outbound Strava API requests by outcome.",
	}, []string{"outcome"})
	governorWaitSeconds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "ratelimit",
		Name:      "governor_wait_seconds_total",
		Help:      "Total seconds spent blocked by the rate governor.",
	})
	recordsMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "store",
		Name:      "records_merged_total",
		Help:      "Activity records upserted into the merge store.",
	})
	subjectsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "syncer",
		Name:      "subjects_processed_total",
		Help:      "Athletes fully processed across runs.",
	})
	subjectsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "syncer",
		Name:      "subjects_skipped_total",
		Help:      "Athletes skipped due to auth or fetch failures.",
	})
	activityWatermark = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stravasync",
		Subsystem: "store",
		Name:      "last_activity_start_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity merged.",
	})
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		governorWaitSeconds,
		recordsMerged,
		subjectsProcessed,
		subjectsSkipped,
		activityWatermark,
	)
}

// RecordRequest counts one outbound request with its outcome label
// ("ok", "retry", "rate_limited", "error").
func RecordRequest(outcome string) {
	requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGovernorWait accumulates time spent blocked on rate admission.
func ObserveGovernorWait(d time.Duration) {
	governorWaitSeconds.Add(d.Seconds())
}

// RecordMerged counts records upserted into the merge store.
func RecordMerged(n int) {
	recordsMerged.Add(float64(n))
}

// RecordSubjectProcessed counts one fully processed athlete.
func RecordSubjectProcessed() {
	subjectsProcessed.Inc()
}

// RecordSubjectSkipped counts one skipped athlete.
func RecordSubjectSkipped() {
	subjectsSkipped.Inc()
}

// RecordActivityWatermark updates the newest-activity gauge.
func RecordActivityWatermark(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityWatermark.Set(float64(ts.Unix()))
}
