package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ollystack/correlation-engine/internal/metrics"
	"github.com/ollystack/correlation-engine/internal/models"
)

// Scorer is an optional model-based scoring layer. Implementations return
// an anomaly score in [0, 1]; errors disable the layer for that call.
type Scorer interface {
	Score(ctx context.Context, baseline *models.Baseline, value float64, at time.Time) (float64, error)
}

const (
	defaultStatThreshold     = 3.0
	defaultSeasonalThreshold = 0.5
	defaultModelThreshold    = 0.8
)

// DetectorOptions tunes the per-layer firing thresholds. Zero fields fall
// back to the defaults.
type DetectorOptions struct {
	// StatThreshold is the z-score above which the statistical layer fires.
	StatThreshold float64
	// SeasonalThreshold is the relative deviation from the seasonal
	// expectation above which the seasonal layer fires.
	SeasonalThreshold float64
	// ModelThreshold is the scorer output above which the model layer fires.
	ModelThreshold float64
}

// Detector scores observed values against learned baselines across three
// layers: statistical (z-score), seasonal (bucket deviation), and an
// optional model scorer. A value is anomalous when any layer fires; the
// reported severity is the strongest layer's.
type Detector struct {
	logger *slog.Logger
	store  *BaselineStore
	reader HistoryReader
	scorer Scorer
	opts   DetectorOptions
}

// NewDetector constructs a detector. reader and scorer may be nil; without
// a reader window-based detection is unavailable, without a scorer the
// model layer is skipped.
func NewDetector(logger *slog.Logger, store *BaselineStore, reader HistoryReader, scorer Scorer, opts DetectorOptions) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StatThreshold <= 0 {
		opts.StatThreshold = defaultStatThreshold
	}
	if opts.SeasonalThreshold <= 0 {
		opts.SeasonalThreshold = defaultSeasonalThreshold
	}
	if opts.ModelThreshold <= 0 {
		opts.ModelThreshold = defaultModelThreshold
	}
	return &Detector{logger: logger, store: store, reader: reader, scorer: scorer, opts: opts}
}

// Detect scores one observed value. An unlearned pair yields a result
// flagged InsufficientData rather than an error; a stale baseline yields a
// normal verdict flagged LowConfidence.
func (d *Detector) Detect(ctx context.Context, service, metric string, value float64, at time.Time) models.AnomalyResult {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	result := models.AnomalyResult{
		Service:     service,
		Metric:      metric,
		Actual:      value,
		EvaluatedAt: time.Now().UTC(),
	}

	baseline, state := d.store.Lookup(service, metric)
	if state == models.BaselineUnlearned {
		result.InsufficientData = true
		result.Explanation = "no baseline learned yet for this series"
		metrics.ObserveAnomalyDetection("insufficient_data")
		return result
	}
	if state == models.BaselineStale {
		result.LowConfidence = true
	}

	expected := baseline.SeasonalExpected(at)
	result.Expected = expected
	if expected != 0 {
		result.DeviationPct = (value - expected) / math.Abs(expected) * 100
	}

	var severity float64

	if baseline.Std > 0 {
		z := math.Abs(value-baseline.Mean) / baseline.Std
		if z > d.opts.StatThreshold {
			result.Anomaly = true
			result.Layers = append(result.Layers, "statistical")
			severity = math.Max(severity, z)
		}
	}

	if expected != 0 {
		relDev := math.Abs(value-expected) / math.Abs(expected)
		if relDev > d.opts.SeasonalThreshold {
			result.Anomaly = true
			result.Layers = append(result.Layers, "seasonal")
			severity = math.Max(severity, relDev*6)
		}
	}

	if d.scorer != nil {
		score, err := d.scorer.Score(ctx, baseline, value, at)
		if err != nil {
			d.logger.Warn("model scoring unavailable",
				"service", service, "metric", metric, "error", err)
		} else if score > d.opts.ModelThreshold {
			result.Anomaly = true
			result.Layers = append(result.Layers, "model")
			severity = math.Max(severity, score*5)
		}
	}

	result.Severity = severity
	result.Explanation = explain(result, baseline, state)
	if result.Anomaly {
		metrics.ObserveAnomalyDetection("anomaly")
	} else {
		metrics.ObserveAnomalyDetection("normal")
	}
	return result
}

// DetectWindow reads the pair's series over the window ending at now and
// scores its most recent point.
func (d *Detector) DetectWindow(ctx context.Context, service, metric string, window time.Duration) (models.AnomalyResult, error) {
	if d.reader == nil {
		return models.AnomalyResult{}, fmt.Errorf("%w: no metric history reader configured", models.ErrCapabilityUnavailable)
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	now := time.Now().UTC()
	tr := models.TimeRange{Start: now.Add(-window), End: now}

	points, err := d.reader.ReadHistory(ctx, service, metric, tr)
	if err != nil {
		return models.AnomalyResult{}, err
	}
	if len(points) == 0 {
		return models.AnomalyResult{
			Service:          service,
			Metric:           metric,
			InsufficientData: true,
			Explanation:      "no samples in the requested window",
			EvaluatedAt:      now,
		}, nil
	}

	latest := points[0]
	for _, p := range points[1:] {
		if p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	return d.Detect(ctx, service, metric, latest.Value, latest.Timestamp), nil
}

func explain(result models.AnomalyResult, baseline *models.Baseline, state models.BaselineState) string {
	if !result.Anomaly {
		if state == models.BaselineStale {
			return "within learned range (stale baseline, low confidence)"
		}
		return "within learned range"
	}
	msg := fmt.Sprintf("observed %.4g against expected %.4g (%+.1f%%), flagged by %v",
		result.Actual, result.Expected, result.DeviationPct, result.Layers)
	if state == models.BaselineStale {
		msg += "; baseline is stale, low confidence"
	}
	return msg
}
