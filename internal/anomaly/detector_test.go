package anomaly

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func learnedStore(mean, std float64) *BaselineStore {
	store := NewBaselineStore(24 * time.Hour)
	store.Replace(&models.Baseline{
		Service:   "payments",
		Metric:    "latency_p95_ms",
		Mean:      mean,
		Std:       std,
		LearnedAt: time.Now(),
	})
	return store
}

func TestDetectUnlearnedReportsInsufficientData(t *testing.T) {
	detector := NewDetector(quietLogger(), NewBaselineStore(24*time.Hour), nil, nil, DetectorOptions{})

	result := detector.Detect(context.Background(), "payments", "latency_p95_ms", 500, time.Now())
	if !result.InsufficientData {
		t.Fatalf("unlearned pair must report insufficient data: %+v", result)
	}
	if result.Anomaly {
		t.Fatalf("insufficient data is not an anomaly verdict: %+v", result)
	}
}

func TestDetectStatisticalLayer(t *testing.T) {
	detector := NewDetector(quietLogger(), learnedStore(100, 10), nil, nil, DetectorOptions{})

	normal := detector.Detect(context.Background(), "payments", "latency_p95_ms", 110, time.Now())
	if normal.Anomaly {
		t.Fatalf("1 sigma must be normal: %+v", normal)
	}

	spike := detector.Detect(context.Background(), "payments", "latency_p95_ms", 200, time.Now())
	if !spike.Anomaly {
		t.Fatalf("10 sigma must be anomalous: %+v", spike)
	}
	if len(spike.Layers) == 0 || spike.Layers[0] != "statistical" {
		t.Fatalf("statistical layer should have fired: %+v", spike.Layers)
	}
	if spike.Severity < 3 {
		t.Fatalf("severity should carry the z-score, got %f", spike.Severity)
	}
}

func TestDetectSeasonalLayerFiresIndependently(t *testing.T) {
	store := NewBaselineStore(24 * time.Hour)
	baseline := &models.Baseline{
		Service:   "payments",
		Metric:    "latency_p95_ms",
		Mean:      100,
		Std:       200, // statistical layer will not fire
		LearnedAt: time.Now(),
	}
	at := time.Date(2026, 8, 19, 15, 0, 0, 0, time.UTC)
	bucket := int(at.Weekday())*24 + at.Hour()
	baseline.HourOfWeek[bucket] = 100
	baseline.HourOfWeekN[bucket] = 8
	store.Replace(baseline)
	detector := NewDetector(quietLogger(), store, nil, nil, DetectorOptions{})

	result := detector.Detect(context.Background(), "payments", "latency_p95_ms", 200, at)
	if !result.Anomaly {
		t.Fatalf("100%% over seasonal expectation must flag: %+v", result)
	}
	if len(result.Layers) != 1 || result.Layers[0] != "seasonal" {
		t.Fatalf("only the seasonal layer should fire: %+v", result.Layers)
	}
}

type stubScorer struct {
	score float64
	err   error
}

func (s stubScorer) Score(ctx context.Context, baseline *models.Baseline, value float64, at time.Time) (float64, error) {
	return s.score, s.err
}

func TestDetectModelLayer(t *testing.T) {
	detector := NewDetector(quietLogger(), learnedStore(100, 1000), nil, stubScorer{score: 0.95}, DetectorOptions{})

	result := detector.Detect(context.Background(), "payments", "latency_p95_ms", 100, time.Now())
	if !result.Anomaly {
		t.Fatalf("model score over threshold must flag: %+v", result)
	}
	found := false
	for _, layer := range result.Layers {
		if layer == "model" {
			found = true
		}
	}
	if !found {
		t.Fatalf("model layer missing: %+v", result.Layers)
	}
}

func TestDetectScorerFailureSkipsModelLayer(t *testing.T) {
	detector := NewDetector(quietLogger(), learnedStore(100, 10), nil, stubScorer{err: models.ErrCapabilityUnavailable}, DetectorOptions{})

	result := detector.Detect(context.Background(), "payments", "latency_p95_ms", 105, time.Now())
	if result.Anomaly {
		t.Fatalf("scorer outage must not flag on its own: %+v", result)
	}
}

func TestDetectStaleBaselineLowConfidence(t *testing.T) {
	store := NewBaselineStore(time.Hour)
	store.Replace(&models.Baseline{
		Service:   "payments",
		Metric:    "latency_p95_ms",
		Mean:      100,
		Std:       10,
		LearnedAt: time.Now().Add(-2 * time.Hour),
	})
	detector := NewDetector(quietLogger(), store, nil, nil, DetectorOptions{})

	result := detector.Detect(context.Background(), "payments", "latency_p95_ms", 200, time.Now())
	if !result.Anomaly {
		t.Fatalf("stale baselines still detect: %+v", result)
	}
	if !result.LowConfidence {
		t.Fatalf("stale baseline verdicts must be low-confidence: %+v", result)
	}
}

func TestDetectWindowUsesLatestSample(t *testing.T) {
	now := time.Now().UTC()
	reader := historyFunc(func(ctx context.Context, service, metric string, tr models.TimeRange) ([]models.MetricPoint, error) {
		return []models.MetricPoint{
			{Timestamp: now.Add(-10 * time.Minute), Name: metric, Value: 100},
			{Timestamp: now.Add(-time.Minute), Name: metric, Value: 500},
		}, nil
	})
	detector := NewDetector(quietLogger(), learnedStore(100, 10), reader, nil, DetectorOptions{})

	result, err := detector.DetectWindow(context.Background(), "payments", "latency_p95_ms", 15*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Actual != 500 {
		t.Fatalf("latest sample should be scored, got %f", result.Actual)
	}
	if !result.Anomaly {
		t.Fatalf("expected spike to flag: %+v", result)
	}
}

func TestDetectWindowWithoutReader(t *testing.T) {
	detector := NewDetector(quietLogger(), learnedStore(100, 10), nil, nil, DetectorOptions{})
	_, err := detector.DetectWindow(context.Background(), "payments", "latency_p95_ms", 15*time.Minute)
	if !errors.Is(err, models.ErrCapabilityUnavailable) {
		t.Fatalf("expected ErrCapabilityUnavailable, got %v", err)
	}
}

func TestDetectThresholdOverrides(t *testing.T) {
	// z = 5 fires at the default threshold but not at a raised one.
	strict := NewDetector(quietLogger(), learnedStore(100, 10), nil, nil, DetectorOptions{StatThreshold: 6})
	if result := strict.Detect(context.Background(), "payments", "latency_p95_ms", 150, time.Now()); result.Anomaly {
		t.Fatalf("5 sigma must stay under a threshold of 6: %+v", result)
	}

	loose := NewDetector(quietLogger(), learnedStore(100, 10), nil, nil, DetectorOptions{StatThreshold: 2})
	if result := loose.Detect(context.Background(), "payments", "latency_p95_ms", 125, time.Now()); !result.Anomaly {
		t.Fatalf("2.5 sigma must fire at a threshold of 2: %+v", result)
	}

	model := NewDetector(quietLogger(), learnedStore(100, 1000), nil, stubScorer{score: 0.95}, DetectorOptions{ModelThreshold: 0.99})
	if result := model.Detect(context.Background(), "payments", "latency_p95_ms", 100, time.Now()); result.Anomaly {
		t.Fatalf("score 0.95 must stay under a threshold of 0.99: %+v", result)
	}
}
