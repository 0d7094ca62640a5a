package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine metrics
	engineRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optiforge_engine_request_duration_seconds",
			Help:    "Optimization engine request duration in seconds by engine",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
		},
		[]string{"engine", "status"},
	)

	rateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optiforge_rate_limiter_wait_duration_seconds",
			Help:    "Rate limiter wait duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"model"},
	)

	// Queue metrics
	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optiforge_job_duration_seconds",
			Help:    "Background job duration by job name and outcome",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"job", "state"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optiforge_jobs_in_flight",
			Help: "Jobs currently waiting or active by job name",
		},
		[]string{"job"},
	)

	// Lifecycle metrics
	phaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiforge_phase_transitions_total",
			Help: "Optimization phase transitions committed",
		},
		[]string{"transition"}, // prepared, executed, validated, ended
	)

	optimizationsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiforge_optimizations_ended_total",
			Help: "Optimizations that reached a terminal state by outcome",
		},
		[]string{"outcome"}, // completed, failed, cancelled
	)

	curatedExamples = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optiforge_curated_examples",
			Help:    "Example rows mined per polarity during dataset curation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"polarity"},
	)

	cancelWaitTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "optiforge_cancel_wait_timeouts_total",
			Help: "Cancellations whose job did not stop within the wait bound",
		},
	)
)

// Collector provides convenience methods for recording metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// RecordEngineRequest records an engine call duration
func (c *Collector) RecordEngineRequest(engine string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	engineRequestDuration.WithLabelValues(engine, status(success)).Observe(duration.Seconds())
}

// RecordRateLimiterWait records rate limiter wait time
func (c *Collector) RecordRateLimiterWait(model string, duration time.Duration) {
	if c == nil {
		return
	}
	rateLimiterWaitDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordJob records a finished job
func (c *Collector) RecordJob(job, state string, duration time.Duration) {
	if c == nil {
		return
	}
	jobDuration.WithLabelValues(job, state).Observe(duration.Seconds())
}

// AddJobsInFlight adjusts the in-flight gauge for a job name
func (c *Collector) AddJobsInFlight(job string, delta int) {
	if c == nil {
		return
	}
	jobsInFlight.WithLabelValues(job).Add(float64(delta))
}

// IncrementTransition counts a committed phase transition
func (c *Collector) IncrementTransition(transition string) {
	if c == nil {
		return
	}
	phaseTransitions.WithLabelValues(transition).Inc()
}

// IncrementEnded counts a terminal optimization by outcome
func (c *Collector) IncrementEnded(outcome string) {
	if c == nil {
		return
	}
	optimizationsEnded.WithLabelValues(outcome).Inc()
}

// RecordCuratedExamples records how many rows a polarity search found
func (c *Collector) RecordCuratedExamples(polarity string, count int) {
	if c == nil {
		return
	}
	curatedExamples.WithLabelValues(polarity).Observe(float64(count))
}

// IncrementCancelWaitTimeout counts a cancellation wait that timed out
func (c *Collector) IncrementCancelWaitTimeout() {
	if c == nil {
		return
	}
	cancelWaitTimeouts.Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
