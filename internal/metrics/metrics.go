// Package metrics provides Prometheus instrumentation for the transcoding
// worker. All metrics are prefixed with "transcoder_" and registered on the
// default registry, which the ops server exposes at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcomes for JobsTotal.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeFailed       = "failed"
	OutcomeMalformed    = "malformed"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeCancelled    = "cancelled"
)

// Encoder run statuses for EncoderRunsTotal.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_jobs_total",
			Help: "Total number of queue messages handled, by outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transcoder_job_duration_seconds",
			Help:    "Pipeline duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcoder_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"},
	)

	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transcoder_active_jobs",
			Help: "Number of pipeline runs currently executing",
		},
	)
)

// Encoder metrics
var (
	EncoderRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_encoder_runs_total",
			Help: "Total number of encoder invocations, by task kind and status",
		},
		[]string{"kind", "status"},
	)
)

// Queue and index metrics
var (
	QueueReceiveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcoder_queue_receive_errors_total",
			Help: "Total number of failed queue receive calls",
		},
	)

	IndexUpdateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcoder_index_update_failures_total",
			Help: "Total number of video index updates that failed",
		},
	)
)

// HTTP metrics for the ops server
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcoder_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
