// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Evaluation metrics
	JobsSubmitted     prometheus.Counter
	JobsDeduplicated  prometheus.Counter
	JobsCompleted     prometheus.Counter
	JobsFailed        *prometheus.CounterVec
	JobsReaped        prometheus.Counter
	EvaluationLatency prometheus.Histogram
	RunningJobs       prometheus.Gauge

	// Cache metrics
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheCorruptions prometheus.Counter

	// Refresh metrics
	RefreshRuns     *prometheus.CounterVec
	RefreshDuration prometheus.Histogram

	// Ingestion metrics
	TicksIngested   prometheus.Counter
	IngestPollTotal *prometheus.CounterVec

	// Origin metrics
	OriginCallLatency *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulIngest  prometheus.Gauge
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coin_journal"
	}

	return &Metrics{
		// Evaluation metrics
		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "jobs_submitted_total",
			Help:      "Total number of evaluation jobs accepted for execution",
		}),
		JobsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "jobs_deduplicated_total",
			Help:      "Total number of submissions collapsed onto an in-flight job",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "jobs_completed_total",
			Help:      "Total number of evaluation jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "jobs_failed_total",
			Help:      "Total number of evaluation jobs failed by reason",
		}, []string{"reason"}),
		JobsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "jobs_reaped_total",
			Help:      "Total number of stale running jobs failed by the reaper",
		}),
		EvaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "duration_seconds",
			Help:      "Evaluation execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		RunningJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "running_jobs",
			Help:      "Number of evaluation jobs currently executing",
		}),

		// Cache metrics
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits by data kind",
		}, []string{"kind"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses by data kind",
		}, []string{"kind"}),
		CacheCorruptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "corrupt_payloads_total",
			Help:      "Total number of cache entries dropped as undecodable",
		}),

		// Refresh metrics
		RefreshRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of cache refresh runs by status",
		}, []string{"status"}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Cache refresh run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Ingestion metrics
		TicksIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticks_total",
			Help:      "Total number of price ticks persisted",
		}),
		IngestPollTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "polls_total",
			Help:      "Total number of origin polls by status",
		}, []string{"status"}),

		// Origin metrics
		OriginCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "origin",
			Name:      "call_latency_seconds",
			Help:      "Origin API call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		// Health metrics
		LastSuccessfulIngest: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingest_timestamp",
			Help:      "Unix timestamp of last successful tick ingest",
		}),
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful cache refresh",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordJobSubmitted increments the jobs submitted counter.
func RecordJobSubmitted() {
	DefaultMetrics.JobsSubmitted.Inc()
}

// RecordJobDeduplicated increments the deduplicated submissions counter.
func RecordJobDeduplicated() {
	DefaultMetrics.JobsDeduplicated.Inc()
}

// RecordJobCompleted records a successful evaluation and its duration.
func RecordJobCompleted(durationSeconds float64) {
	DefaultMetrics.JobsCompleted.Inc()
	DefaultMetrics.EvaluationLatency.Observe(durationSeconds)
}

// RecordJobFailed records a failed evaluation by reason.
func RecordJobFailed(reason string) {
	DefaultMetrics.JobsFailed.WithLabelValues(reason).Inc()
}

// RecordJobReaped increments the reaped jobs counter.
func RecordJobReaped() {
	DefaultMetrics.JobsReaped.Inc()
}

// SetRunningJobs updates the running jobs gauge.
func SetRunningJobs(n int) {
	DefaultMetrics.RunningJobs.Set(float64(n))
}

// RecordCacheHit increments the cache hit counter for a data kind.
func RecordCacheHit(kind string) {
	DefaultMetrics.CacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss increments the cache miss counter for a data kind.
func RecordCacheMiss(kind string) {
	DefaultMetrics.CacheMisses.WithLabelValues(kind).Inc()
}

// RecordCacheCorruption increments the dropped corrupt payload counter.
func RecordCacheCorruption() {
	DefaultMetrics.CacheCorruptions.Inc()
}

// RecordRefreshRun records a refresh run and its duration.
func RecordRefreshRun(status string, durationSeconds float64) {
	DefaultMetrics.RefreshRuns.WithLabelValues(status).Inc()
	DefaultMetrics.RefreshDuration.Observe(durationSeconds)
}

// RecordTicksIngested adds to the persisted ticks counter.
func RecordTicksIngested(n int) {
	DefaultMetrics.TicksIngested.Add(float64(n))
}

// RecordIngestPoll records an origin poll outcome.
func RecordIngestPoll(status string) {
	DefaultMetrics.IngestPollTotal.WithLabelValues(status).Inc()
}

// RecordOriginLatency records origin API call latency.
func RecordOriginLatency(endpoint string, seconds float64) {
	DefaultMetrics.OriginCallLatency.WithLabelValues(endpoint).Observe(seconds)
}
