package rca

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ollystack/correlation-engine/internal/anomaly"
	"github.com/ollystack/correlation-engine/internal/models"
)

func statisticalFixture(t *testing.T) (*StatisticalStrategy, *models.CorrelatedContext) {
	t.Helper()
	store := anomaly.NewBaselineStore(24 * time.Hour)
	store.Replace(&models.Baseline{
		Service:   "payment-service",
		Metric:    "latency_p95_ms",
		Mean:      100,
		Std:       10,
		LearnedAt: time.Now().UTC(),
	})
	detector := anomaly.NewDetector(quietLogger(), store, nil, nil, anomaly.DetectorOptions{})

	cc := checkoutContext()
	cc.Metrics = []models.MetricPoint{
		{
			Timestamp: rcaBase.Add(50 * time.Millisecond),
			Name:      "latency_p95_ms",
			Value:     200,
			Labels:    map[string]string{"service": "payment-service"},
		},
		// No baseline for this pair; must be skipped, not treated as anomalous.
		{
			Timestamp: rcaBase.Add(60 * time.Millisecond),
			Name:      "queue_depth",
			Value:     9999,
			Labels:    map[string]string{"service": "order-service"},
		},
	}
	return NewStatisticalStrategy(quietLogger(), detector), cc
}

func TestStatisticalBlamesWorstDeviation(t *testing.T) {
	strategy, cc := statisticalFixture(t)

	finding, err := strategy.Analyze(context.Background(), cc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finding == nil {
		t.Fatal("expected a finding")
	}
	if finding.Service != "payment-service" {
		t.Fatalf("expected payment-service, got %s", finding.Service)
	}
	// 10 sigma caps the stage at its ceiling.
	if finding.Confidence != 0.85 {
		t.Fatalf("unexpected confidence %f", finding.Confidence)
	}
	if len(finding.Evidence) != 1 {
		t.Fatalf("unlearned pair must not produce evidence: %v", finding.Evidence)
	}
	if !strings.Contains(finding.Evidence[0], "metric latency_p95_ms on payment-service") {
		t.Fatalf("unexpected evidence: %q", finding.Evidence[0])
	}
}

func TestStatisticalNormalValuesYieldNothing(t *testing.T) {
	strategy, cc := statisticalFixture(t)
	cc.Metrics[0].Value = 105

	finding, err := strategy.Analyze(context.Background(), cc, nil)
	if err != nil || finding != nil {
		t.Fatalf("in-range value should yield nothing, got %v / %v", finding, err)
	}
}

func TestStatisticalNoMetricsYieldsNothing(t *testing.T) {
	strategy, _ := statisticalFixture(t)

	finding, err := strategy.Analyze(context.Background(), checkoutContext(), nil)
	if err != nil || finding != nil {
		t.Fatalf("no metric points means no finding, got %v / %v", finding, err)
	}
}

func TestStatisticalStaleBaselineLowersConfidence(t *testing.T) {
	store := anomaly.NewBaselineStore(24 * time.Hour)
	store.Replace(&models.Baseline{
		Service:   "payment-service",
		Metric:    "latency_p95_ms",
		Mean:      100,
		Std:       10,
		LearnedAt: time.Now().UTC().Add(-48 * time.Hour),
	})
	detector := anomaly.NewDetector(quietLogger(), store, nil, nil, anomaly.DetectorOptions{})
	strategy := NewStatisticalStrategy(quietLogger(), detector)

	cc := checkoutContext()
	cc.Metrics = []models.MetricPoint{{
		Timestamp: rcaBase.Add(50 * time.Millisecond),
		Name:      "latency_p95_ms",
		Value:     200,
		Labels:    map[string]string{"service": "payment-service"},
	}}

	finding, err := strategy.Analyze(context.Background(), cc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finding == nil {
		t.Fatal("stale baseline still detects")
	}
	if finding.Confidence != 0.65 {
		t.Fatalf("stale penalty not applied, confidence %f", finding.Confidence)
	}
}
