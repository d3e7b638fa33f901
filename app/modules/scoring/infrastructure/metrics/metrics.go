package scoringmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ScoringMetrics records scoring service telemetry.
type ScoringMetrics interface {
	RecordOperationAttempt(ctx context.Context, operation, service string)
	RecordOperationSuccess(ctx context.Context, operation, service string)
	RecordOperationFailure(ctx context.Context, operation, service string)
	RecordOperationDuration(ctx context.Context, operation, service string, duration time.Duration)

	RecordCacheHit(ctx context.Context)
	RecordCacheMiss(ctx context.Context)
	// RecordDrift sets the number of participants whose stored total disagreed with the log at
	// the last audit.
	RecordDrift(ctx context.Context, discrepancies int)
	RecordRepairs(ctx context.Context, fixed, failed int)
	RecordClamp(ctx context.Context, activityID string)
}

type prometheusMetrics struct {
	attempts   *prometheus.CounterVec
	successes  *prometheus.CounterVec
	failures   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	cacheHits  prometheus.Counter
	cacheMiss  prometheus.Counter
	drift      prometheus.Gauge
	repaired   prometheus.Counter
	repairErrs prometheus.Counter
	clamps     *prometheus.CounterVec
}

// NewPrometheus registers the scoring collectors on reg.
func NewPrometheus(reg prometheus.Registerer) (ScoringMetrics, error) {
	m := &prometheusMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "operation_attempts_total",
			Help: "Scoring operations started.",
		}, []string{"operation", "service"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "operation_success_total",
			Help: "Scoring operations that completed without an infrastructure error.",
		}, []string{"operation", "service"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "operation_failures_total",
			Help: "Scoring operations that returned an infrastructure error or panicked.",
		}, []string{"operation", "service"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "operation_duration_seconds",
			Help:    "Scoring operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "service"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "cache_hits_total",
			Help: "Score cache hits.",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "cache_misses_total",
			Help: "Score cache misses, including expired entries.",
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "drifted_participants",
			Help: "Participants whose stored total differed from the log at the last audit.",
		}),
		repaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "repairs_total",
			Help: "Stored totals overwritten by repairs.",
		}),
		repairErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "repair_errors_total",
			Help: "Repairs that failed.",
		}),
		clamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scorekeeper", Subsystem: "scoring", Name: "clamped_calculations_total",
			Help: "Point calculations that fell outside the catalog bounds.",
		}, []string{"activity"}),
	}

	for _, c := range []prometheus.Collector{
		m.attempts, m.successes, m.failures, m.durations,
		m.cacheHits, m.cacheMiss, m.drift, m.repaired, m.repairErrs, m.clamps,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prometheusMetrics) RecordOperationAttempt(_ context.Context, operation, service string) {
	m.attempts.WithLabelValues(operation, service).Inc()
}

func (m *prometheusMetrics) RecordOperationSuccess(_ context.Context, operation, service string) {
	m.successes.WithLabelValues(operation, service).Inc()
}

func (m *prometheusMetrics) RecordOperationFailure(_ context.Context, operation, service string) {
	m.failures.WithLabelValues(operation, service).Inc()
}

func (m *prometheusMetrics) RecordOperationDuration(_ context.Context, operation, service string, duration time.Duration) {
	m.durations.WithLabelValues(operation, service).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordCacheHit(context.Context)  { m.cacheHits.Inc() }
func (m *prometheusMetrics) RecordCacheMiss(context.Context) { m.cacheMiss.Inc() }

func (m *prometheusMetrics) RecordDrift(_ context.Context, discrepancies int) {
	m.drift.Set(float64(discrepancies))
}

func (m *prometheusMetrics) RecordRepairs(_ context.Context, fixed, failed int) {
	m.repaired.Add(float64(fixed))
	m.repairErrs.Add(float64(failed))
}

func (m *prometheusMetrics) RecordClamp(_ context.Context, activityID string) {
	m.clamps.WithLabelValues(activityID).Inc()
}

type noop struct{}

// NewNoop returns metrics that discard everything.
func NewNoop() ScoringMetrics { return noop{} }

func (noop) RecordOperationAttempt(context.Context, string, string)                 {}
func (noop) RecordOperationSuccess(context.Context, string, string)                 {}
func (noop) RecordOperationFailure(context.Context, string, string)                 {}
func (noop) RecordOperationDuration(context.Context, string, string, time.Duration) {}
func (noop) RecordCacheHit(context.Context)                                         {}
func (noop) RecordCacheMiss(context.Context)                                        {}
func (noop) RecordDrift(context.Context, int)                                       {}
func (noop) RecordRepairs(context.Context, int, int)                                {}
func (noop) RecordClamp(context.Context, string)                                    {}
