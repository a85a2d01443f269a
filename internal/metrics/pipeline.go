package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics for the ingestion and read paths.
var (
	// PointsValidated counts uploaded data points by validation outcome
	// ("accepted" or "rejected").
	PointsValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "points_validated_total",
			Help:      "Uploaded data points by validation outcome.",
		},
		[]string{"outcome"},
	)

	// PointsDuplicate counts points dropped by the duplicate filter.
	PointsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "points_duplicate_total",
			Help:      "Uploaded data points dropped as duplicates of persisted history.",
		},
	)

	// ResponsesRolledUp counts survey submissions produced by the roll-up pass.
	ResponsesRolledUp = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "responses_rolled_up_total",
			Help:      "Survey submissions produced by rolling up flat response rows.",
		},
	)

	// EncodeDuration times output encoding per format.
	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "collector",
			Name:      "encode_duration_seconds",
			Help:      "Survey response read payload build duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"format"},
	)

	// EncodeFailures counts read requests that fell back to the error envelope.
	EncodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "encode_failures_total",
			Help:      "Survey response read requests answered with the error envelope.",
		},
		[]string{"format"},
	)
)
