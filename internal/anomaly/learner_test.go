package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// historyFunc adapts a closure into a HistoryReader.
type historyFunc func(ctx context.Context, service, metric string, tr models.TimeRange) ([]models.MetricPoint, error)

func (f historyFunc) ReadHistory(ctx context.Context, service, metric string, tr models.TimeRange) ([]models.MetricPoint, error) {
	return f(ctx, service, metric, tr)
}

func hourlySeries(days int, value func(i int) float64) []models.MetricPoint {
	end := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	var points []models.MetricPoint
	for i := 0; i < days*24; i++ {
		points = append(points, models.MetricPoint{
			Timestamp: end.Add(-time.Duration(i) * time.Hour),
			Name:      "latency_p95_ms",
			Value:     value(i),
			Labels:    map[string]string{"service": "payments"},
		})
	}
	return points
}

func TestComputeBaselineRequiresMinimumHistory(t *testing.T) {
	short := hourlySeries(3, func(i int) float64 { return 100 })
	_, err := ComputeBaseline("payments", "latency_p95_ms", short, 7*24*time.Hour)
	if !errors.Is(err, models.ErrInsufficientBaseline) {
		t.Fatalf("3 days of history must stay unlearned, got %v", err)
	}
}

func TestComputeBaselineStatistics(t *testing.T) {
	points := hourlySeries(8, func(i int) float64 { return 100 + float64(i%10) })
	baseline, err := ComputeBaseline("payments", "latency_p95_ms", points, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if baseline.Std < 0 {
		t.Fatalf("std must be non-negative, got %f", baseline.Std)
	}
	if baseline.P50 > baseline.P95 || baseline.P95 > baseline.P99 {
		t.Fatalf("percentiles not monotonic: p50=%f p95=%f p99=%f", baseline.P50, baseline.P95, baseline.P99)
	}
	if baseline.SampleCount != len(points) {
		t.Fatalf("sample count %d != %d", baseline.SampleCount, len(points))
	}
	if baseline.HistorySpan < 7*24*time.Hour {
		t.Fatalf("history span too short: %s", baseline.HistorySpan)
	}
}

func TestComputeBaselineSeasonalBuckets(t *testing.T) {
	// Value depends only on hour of day, so every hour bucket is exact.
	points := hourlySeries(14, func(i int) float64 { return float64(i % 24) })
	baseline, err := ComputeBaseline("payments", "latency_p95_ms", points, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	probe := time.Date(2026, 8, 19, 15, 30, 0, 0, time.UTC)
	expected := baseline.SeasonalExpected(probe)
	if expected < 0 || expected > 23 {
		t.Fatalf("seasonal expectation out of range: %f", expected)
	}
}

func TestLearnerTransitionsUnlearnedToLearned(t *testing.T) {
	store := NewBaselineStore(24 * time.Hour)
	if _, state := store.Lookup("payments", "latency_p95_ms"); state != models.BaselineUnlearned {
		t.Fatalf("expected unlearned before learning, got %s", state)
	}

	reader := historyFunc(func(ctx context.Context, service, metric string, tr models.TimeRange) ([]models.MetricPoint, error) {
		return hourlySeries(8, func(i int) float64 { return 100 }), nil
	})
	learner := NewLearner(quietLogger(), reader, store, []Pair{{Service: "payments", Metric: "latency_p95_ms"}}, LearnerOptions{})

	learner.LearnAll(context.Background())

	baseline, state := store.Lookup("payments", "latency_p95_ms")
	if state != models.BaselineLearned {
		t.Fatalf("expected learned, got %s", state)
	}
	if baseline == nil || baseline.Mean != 100 {
		t.Fatalf("unexpected baseline: %+v", baseline)
	}
}

func TestLearnerKeepsUnlearnedOnShortHistory(t *testing.T) {
	store := NewBaselineStore(24 * time.Hour)
	reader := historyFunc(func(ctx context.Context, service, metric string, tr models.TimeRange) ([]models.MetricPoint, error) {
		return hourlySeries(3, func(i int) float64 { return 100 }), nil
	})
	learner := NewLearner(quietLogger(), reader, store, []Pair{{Service: "payments", Metric: "latency_p95_ms"}}, LearnerOptions{})

	learner.LearnAll(context.Background())

	if _, state := store.Lookup("payments", "latency_p95_ms"); state != models.BaselineUnlearned {
		t.Fatalf("short history must stay unlearned, got %s", state)
	}
}

func TestBaselineStoreStaleness(t *testing.T) {
	store := NewBaselineStore(time.Hour)
	store.Replace(&models.Baseline{
		Service:   "payments",
		Metric:    "latency_p95_ms",
		Mean:      100,
		LearnedAt: time.Now().Add(-2 * time.Hour),
	})

	baseline, state := store.Lookup("payments", "latency_p95_ms")
	if state != models.BaselineStale {
		t.Fatalf("aged baseline should be stale, got %s", state)
	}
	if baseline == nil {
		t.Fatal("stale baselines remain usable")
	}

	// A fresh replacement restores full trust.
	store.Replace(&models.Baseline{
		Service:   "payments",
		Metric:    "latency_p95_ms",
		Mean:      100,
		LearnedAt: time.Now(),
	})
	if _, state := store.Lookup("payments", "latency_p95_ms"); state != models.BaselineLearned {
		t.Fatalf("refreshed baseline should be learned, got %s", state)
	}
}
