package rca

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

var rcaBase = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// checkoutContext mirrors a three-service checkout trace where the payment
// hop failed and logged a timeout at t=45ms.
func checkoutContext() *models.CorrelatedContext {
	spans := []models.Span{
		{TraceID: "t", SpanID: "gw", Service: "gateway", Operation: "POST /checkout", StartTime: rcaBase, Duration: 200 * time.Millisecond, Status: models.StatusOK},
		{TraceID: "t", SpanID: "ord", ParentSpanID: "gw", Service: "order-service", Operation: "create order", StartTime: rcaBase.Add(20 * time.Millisecond), Duration: 160 * time.Millisecond, Status: models.StatusOK},
		{TraceID: "t", SpanID: "pay", ParentSpanID: "ord", Service: "payment-service", Operation: "charge", StartTime: rcaBase.Add(40 * time.Millisecond), Duration: 130 * time.Millisecond, Status: models.StatusError},
	}
	logs := []models.LogEntry{
		{Timestamp: rcaBase.Add(45 * time.Millisecond), Service: "payment-service", Severity: "ERROR", Body: "timeout", SpanID: "pay"},
	}
	return &models.CorrelatedContext{
		CorrelationID: "olly-abc123",
		TimeRange:     models.TimeRange{Start: rcaBase, End: rcaBase.Add(200 * time.Millisecond)},
		Spans:         spans,
		Logs:          logs,
		Services:      []string{"gateway", "order-service", "payment-service"},
	}
}

func TestDeterministicBlamesFirstError(t *testing.T) {
	strategy := NewDeterministicStrategy(quietLogger(), nil)

	finding, err := strategy.Analyze(context.Background(), checkoutContext(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finding == nil {
		t.Fatal("expected a finding")
	}
	if finding.Service != "payment-service" {
		t.Fatalf("expected payment-service, got %s", finding.Service)
	}

	want := []string{
		"error status in span payment-service",
		"log ERROR at t=45ms",
	}
	if len(finding.Evidence) != len(want) {
		t.Fatalf("unexpected evidence: %v", finding.Evidence)
	}
	for i, line := range want {
		if finding.Evidence[i] != line {
			t.Fatalf("evidence[%d] = %q, want %q", i, finding.Evidence[i], line)
		}
	}
}

func TestDeterministicPatternMatchAddsRemediations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	pack := `patterns:
  - id: downstream-timeout
    contains: ["timeout"]
    cause: "downstream dependency timed out"
    remediations:
      - "Check downstream latency."
`
	if err := os.WriteFile(path, []byte(pack), 0o600); err != nil {
		t.Fatalf("write pattern pack: %v", err)
	}
	patterns, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("load patterns: %v", err)
	}
	strategy := NewDeterministicStrategy(quietLogger(), patterns)

	finding, err := strategy.Analyze(context.Background(), checkoutContext(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finding.Cause != "downstream dependency timed out" {
		t.Fatalf("pattern cause not applied: %q", finding.Cause)
	}
	if len(finding.Remediations) != 1 {
		t.Fatalf("pattern remediations not applied: %v", finding.Remediations)
	}
}

func TestLoadPatternsMissingFile(t *testing.T) {
	patterns, err := LoadPatterns(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || patterns != nil {
		t.Fatalf("missing pack should be tolerated, got %v / %v", patterns, err)
	}
}

func TestDeterministicSlowestSpanFallback(t *testing.T) {
	cc := checkoutContext()
	for i := range cc.Spans {
		cc.Spans[i].Status = models.StatusOK
	}
	cc.Logs = nil

	strategy := NewDeterministicStrategy(quietLogger(), nil)
	finding, err := strategy.Analyze(context.Background(), cc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finding == nil {
		t.Fatal("expected a latency finding")
	}
	if finding.Service != "gateway" {
		t.Fatalf("slowest span is the gateway's, got %s", finding.Service)
	}
	if finding.Confidence >= 0.5 {
		t.Fatalf("latency fallback must be weak, got %f", finding.Confidence)
	}
}

func TestDeterministicEmptyContext(t *testing.T) {
	strategy := NewDeterministicStrategy(quietLogger(), nil)
	finding, err := strategy.Analyze(context.Background(), &models.CorrelatedContext{CorrelationID: "x"}, nil)
	if err != nil || finding != nil {
		t.Fatalf("empty context should yield nothing, got %v / %v", finding, err)
	}
}
