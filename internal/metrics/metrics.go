package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels requests that produced a full context.
	OutcomeSuccess = "success"
	// OutcomePartial labels requests degraded by missing sources.
	OutcomePartial = "partial"
	// OutcomeError labels requests that failed outright.
	OutcomeError = "error"
)

const (
	// CacheHit labels lookups answered from the result cache.
	CacheHit = "hit"
	// CacheMiss labels lookups that rebuilt the context.
	CacheMiss = "miss"
)

var (
	contextRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlation_engine",
			Name:      "context_requests_total",
			Help:      "Correlation context requests, partitioned by outcome and cache result.",
		},
		[]string{"outcome", "cache"},
	)

	contextDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "correlation_engine",
			Name:      "context_seconds",
			Help:      "Context assembly latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
	)

	fetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlation_engine",
			Name:      "fetch_failures_total",
			Help:      "Signal sub-fetch failures, partitioned by source.",
		},
		[]string{"source"},
	)

	rcaStageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "correlation_engine",
			Name:      "rca_stage_seconds",
			Help:      "Root-cause strategy latency in seconds, per stage.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4},
		},
		[]string{"stage", "outcome"},
	)

	anomalyDetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlation_engine",
			Name:      "anomaly_detections_total",
			Help:      "Anomaly detections, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches the engine collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		contextRequestsTotal,
		contextDurationSeconds,
		fetchFailuresTotal,
		rcaStageSeconds,
		anomalyDetectionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveContextRequest records one context request.
func ObserveContextRequest(duration time.Duration, outcome, cacheResult string) {
	contextRequestsTotal.WithLabelValues(outcome, cacheResult).Inc()
	if duration < 0 {
		duration = 0
	}
	contextDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetchFailure records one failed signal sub-fetch.
func ObserveFetchFailure(source string) {
	fetchFailuresTotal.WithLabelValues(source).Inc()
}

// ObserveRCAStage records one strategy execution.
func ObserveRCAStage(stage string, duration time.Duration, outcome string) {
	if duration < 0 {
		duration = 0
	}
	rcaStageSeconds.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// ObserveAnomalyDetection records one detection call outcome.
func ObserveAnomalyDetection(outcome string) {
	anomalyDetectionsTotal.WithLabelValues(outcome).Inc()
}
