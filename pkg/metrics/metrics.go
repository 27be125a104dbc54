// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdziat/engagement-jobs/pkg/core"
)

const namespace = "engagement"

// Registry is the registry all pipeline metrics are registered with.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Job metrics
var (
	// JobsClaimed counts claims by job type.
	JobsClaimed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Total number of jobs claimed",
		},
		[]string{"job_type"},
	)

	// JobsFinished counts job outcomes. result: completed, skipped, retrying, failed
	JobsFinished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of job attempts by outcome",
		},
		[]string{"job_type", "result"},
	)

	// JobsInFlight tracks jobs currently being processed.
	JobsInFlight = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Current number of jobs being processed",
		},
	)

	// JobDuration tracks processing time per attempt.
	JobDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job processing duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"job_type"},
	)
)

// Ingestion metrics
var (
	// EngagementsIngested counts engagements written, by action.
	EngagementsIngested = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engagements_ingested_total",
			Help:      "Total number of engagements upserted",
		},
		[]string{"action"},
	)

	// RateLimitBlocks counts cooldowns written to worker state.
	RateLimitBlocks = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_blocks_total",
			Help:      "Total number of rate-limit cooldowns recorded",
		},
		[]string{"job_type"},
	)

	// SnapshotsWritten counts hourly snapshots created.
	SnapshotsWritten = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_written_total",
			Help:      "Total number of metric snapshots written",
		},
	)

	// TriggerFailures counts downstream trigger handlers that errored or panicked.
	TriggerFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_failures_total",
			Help:      "Total number of failed downstream triggers",
		},
		[]string{"trigger"},
	)
)

// Upstream metrics
var (
	// UpstreamRequests counts upstream HTTP requests by endpoint and status class.
	UpstreamRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream API requests",
		},
		[]string{"endpoint", "status"},
	)

	// UpstreamRetries counts in-client retries by endpoint.
	UpstreamRetries = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Total number of upstream request retries",
		},
		[]string{"endpoint"},
	)
)

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Hooks is the subset of the queue's hook registration used here.
type Hooks interface {
	OnJobComplete(fn func(context.Context, *core.Job))
	OnJobFail(fn func(context.Context, *core.Job, error))
	OnRetry(fn func(context.Context, *core.Job, int, error))
}

// Instrument counts job outcomes through the queue's hooks.
func Instrument(h Hooks) {
	h.OnJobComplete(func(_ context.Context, j *core.Job) {
		JobsFinished.WithLabelValues(string(j.JobType), "completed").Inc()
	})
	h.OnRetry(func(_ context.Context, j *core.Job, _ int, _ error) {
		JobsFinished.WithLabelValues(string(j.JobType), "retrying").Inc()
	})
	h.OnJobFail(func(_ context.Context, j *core.Job, _ error) {
		JobsFinished.WithLabelValues(string(j.JobType), "failed").Inc()
	})
}
