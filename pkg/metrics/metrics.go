// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks conversation turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	// TurnDuration tracks submit-to-commit turn duration.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Duration from submission to committed/failed resolution",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90},
		},
		[]string{"outcome"},
	)

	// StatusPollsTotal tracks job status polls by observed status.
	StatusPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_status_polls_total",
			Help: "Job status polls by observed status",
		},
		[]string{"status"},
	)

	// PartialDisclosureLatency tracks time until the partial event fired.
	PartialDisclosureLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_partial_disclosure_seconds",
			Help:    "Time from poll start until identified entities were disclosed",
			Buckets: []float64{.3, .6, 1, 2, 3, 5, 10, 20, 30},
		},
	)

	// CacheOpsTotal tracks conversation cache operations.
	CacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_cache_ops_total",
			Help: "Conversation cache operations by result",
		},
		[]string{"op", "result"},
	)

	// CleanupFailuresTotal tracks failed best-effort job cleanups.
	CleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "job_cleanup_failures_total",
			Help: "Failed best-effort job record deletions",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SessionsSavedTotal tracks conversations persisted to the remote store.
	SessionsSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_saved_total",
			Help: "Unsaved conversations persisted as sessions",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records the resolution of a conversation turn.
func RecordTurn(outcome string, seconds float64) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.WithLabelValues(outcome).Observe(seconds)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
