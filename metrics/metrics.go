// Package metrics exposes prometheus collectors for the pipeline. Collectors
// are package-level and registered via promauto so components can record
// without carrying a handle; the daemon serves them on the telemetry listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts accepted work requests.
	JobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eduinsight_jobs_submitted_total",
			Help: "Total work requests admitted by the coordinator",
		},
	)

	// JobsFinished counts jobs by terminal state.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduinsight_jobs_finished_total",
			Help: "Jobs reaching a terminal state",
		},
		[]string{"state"}, // completed, failed, timed_out, cancelled
	)

	// JobsRejected counts submissions refused before admission.
	JobsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduinsight_jobs_rejected_total",
			Help: "Submissions rejected by admission control or dedup",
		},
		[]string{"reason"}, // overloaded, duplicate_in_flight
	)

	// StageDuration observes per-stage wall-clock time.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eduinsight_stage_duration_seconds",
			Help:    "Stage execution duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage", "outcome"}, // outcome: ok, error, timeout
	)

	// LLMCallDuration observes language-model backend latency.
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eduinsight_llm_call_duration_seconds",
			Help:    "Language model call duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "outcome"},
	)

	// DegradedReports counts templated fallbacks taken after a narrative
	// sub-timeout. These are successes, tracked separately from failures.
	DegradedReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eduinsight_degraded_reports_total",
			Help: "Reports rendered via the templated fallback path",
		},
	)

	// RecordsNormalized counts records produced by the adapter layer.
	RecordsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduinsight_records_normalized_total",
			Help: "External records normalized by source format",
		},
		[]string{"format"},
	)

	// ExportRows observes export sizes that passed the row ceiling.
	ExportRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eduinsight_export_rows",
			Help:    "Rows per successful export",
			Buckets: prometheus.ExponentialBuckets(10, 10, 5),
		},
	)

	// AgentMessages counts messages handled per agent and result.
	AgentMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduinsight_agent_messages_total",
			Help: "Messages handled by agents",
		},
		[]string{"agent", "result"}, // result: ok, error
	)
)
