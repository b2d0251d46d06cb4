// Package metrics declares the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "credential"

var (
	// AuthEvents counts credential operations by event and outcome
	// (ok, rejected, error).
	AuthEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Credential operations by event and outcome.",
		},
		[]string{"event", "outcome"},
	)

	// GuardRejections counts requests refused by the request guard.
	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Requests rejected by the auth guard, by reason.",
		},
		[]string{"reason"},
	)

	CleanupDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_rows_total",
			Help:      "Rows removed by expiry sweeps.",
		},
		[]string{"sweep"},
	)

	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Sweep runs that failed after all attempts.",
		},
		[]string{"sweep"},
	)

	CleanupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_duration_seconds",
			Help:      "Duration of one sweep run including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 3, 8), // 5ms to ~11s
		},
		[]string{"sweep"},
	)

	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)
