package rca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// stubStrategy returns a fixed finding or error under a given stage name.
type stubStrategy struct {
	name    string
	finding *Finding
	err     error
	delay   time.Duration
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Analyze(ctx context.Context, cc *models.CorrelatedContext, prior []models.Evidence) (*Finding, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.finding, s.err
}

func orchestrate(t *testing.T, strategies ...Strategy) *models.RCAResult {
	t.Helper()
	o := NewOrchestrator(quietLogger(), strategies, nil, nil, nil)
	result, err := o.Analyze(context.Background(), checkoutContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestOrchestratorKeepsEarlierCauseWithinMargin(t *testing.T) {
	result := orchestrate(t,
		stubStrategy{name: StageDeterministic, finding: &Finding{
			Service: "payment-service", Cause: "payment failure", Confidence: 0.9,
			Evidence: []string{"error status in span payment-service"},
		}},
		stubStrategy{name: StageCausal, finding: &Finding{
			Service: "order-service", Cause: "upstream degradation", Confidence: 0.95,
			Evidence: []string{"order-service precedes payment-service"},
		}},
	)

	// Margin 0.05 < 0.3: the cheaper deterministic verdict stands.
	if result.RootCause != "payment failure" {
		t.Fatalf("expected deterministic cause kept, got %q", result.RootCause)
	}
	if result.Confidence != 0.9 {
		t.Fatalf("confidence should be the supporting maximum, got %f", result.Confidence)
	}
}

func TestOrchestratorSwitchesCauseBeyondMargin(t *testing.T) {
	result := orchestrate(t,
		stubStrategy{name: StageDeterministic, finding: &Finding{
			Service: "payment-service", Cause: "payment failure", Confidence: 0.5,
		}},
		stubStrategy{name: StageCausal, finding: &Finding{
			Service: "order-service", Cause: "upstream degradation", Confidence: 0.95,
		}},
	)

	// Margin 0.45 >= 0.3: the causal verdict wins.
	if result.RootCause != "upstream degradation" {
		t.Fatalf("expected causal cause, got %q", result.RootCause)
	}
	if result.Confidence != 0.95 {
		t.Fatalf("unexpected confidence: %f", result.Confidence)
	}
}

func TestOrchestratorEvidenceUnionStageOrdered(t *testing.T) {
	result := orchestrate(t,
		stubStrategy{name: StageDeterministic, finding: &Finding{
			Service: "payment-service", Cause: "payment failure", Confidence: 0.9,
			Evidence: []string{"first", "second"},
		}},
		stubStrategy{name: StageStatistical, finding: &Finding{
			Service: "payment-service", Cause: "baseline deviation", Confidence: 0.6,
			Evidence: []string{"third"},
		}},
	)

	if len(result.Evidence) != 3 {
		t.Fatalf("evidence must never be discarded: %+v", result.Evidence)
	}
	wantStages := []string{StageDeterministic, StageDeterministic, StageStatistical}
	for i, stage := range wantStages {
		if result.Evidence[i].Stage != stage {
			t.Fatalf("evidence[%d] from %s, want %s", i, result.Evidence[i].Stage, stage)
		}
	}
}

func TestOrchestratorAbsorbsStageFailure(t *testing.T) {
	result := orchestrate(t,
		stubStrategy{name: StageDeterministic, finding: &Finding{
			Service: "payment-service", Cause: "payment failure", Confidence: 0.9,
		}},
		stubStrategy{name: StageGenerative, err: models.ErrCapabilityUnavailable},
	)

	if result.RootCause != "payment failure" {
		t.Fatalf("stage outage must not fail the analysis: %q", result.RootCause)
	}
}

func TestOrchestratorBoxesSlowStage(t *testing.T) {
	budgets := map[string]time.Duration{StageCausal: 10 * time.Millisecond}
	o := NewOrchestrator(quietLogger(), []Strategy{
		stubStrategy{name: StageDeterministic, finding: &Finding{
			Service: "payment-service", Cause: "payment failure", Confidence: 0.9,
		}},
		stubStrategy{name: StageCausal, delay: time.Second, finding: &Finding{
			Service: "order-service", Cause: "never seen", Confidence: 1.0,
		}},
	}, budgets, nil, nil)

	start := time.Now()
	result, err := o.Analyze(context.Background(), checkoutContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("slow stage not boxed, took %s", elapsed)
	}
	if result.RootCause != "payment failure" {
		t.Fatalf("timed-out stage must not contribute: %q", result.RootCause)
	}
}

func TestOrchestratorGenerativeIsAdditive(t *testing.T) {
	result := orchestrate(t,
		stubStrategy{name: StageDeterministic, finding: &Finding{
			Service: "payment-service", Cause: "payment failure", Confidence: 0.9,
			Evidence: []string{"error status in span payment-service"},
		}},
		// Service empty: explanation can enrich but never overturn.
		stubStrategy{name: StageGenerative, finding: &Finding{
			Confidence:   0.99,
			Summary:      "payment timed out reaching the card processor",
			Remediations: []string{"Raise the processor timeout."},
		}},
	)

	if result.RootCause != "payment failure" {
		t.Fatalf("additive stage must not change the cause: %q", result.RootCause)
	}
	if result.Summary != "payment timed out reaching the card processor" {
		t.Fatalf("summary not applied: %q", result.Summary)
	}
	if len(result.Remediations) != 1 {
		t.Fatalf("remediations not merged: %v", result.Remediations)
	}
	if result.Confidence != 0.99 {
		t.Fatalf("supporting confidence should raise the maximum: %f", result.Confidence)
	}
}

func TestOrchestratorNoFindings(t *testing.T) {
	result := orchestrate(t, stubStrategy{name: StageDeterministic})
	if result.RootCause != "no conclusive root cause" {
		t.Fatalf("unexpected root cause: %q", result.RootCause)
	}
	if result.AnalysisID == "" {
		t.Fatal("analysis id must always be set")
	}
}

// archiveStub records interactions with the incident store.
type archiveStub struct {
	searched bool
	upserted bool
	matches  []models.IncidentMatch
	err      error
}

func (a *archiveStub) SearchSimilar(ctx context.Context, vector []float32, topK int, service string) ([]models.IncidentMatch, error) {
	a.searched = true
	return a.matches, a.err
}

func (a *archiveStub) UpsertIncident(ctx context.Context, result models.RCAResult, vector []float32) error {
	a.upserted = true
	return a.err
}

func TestOrchestratorConsultsArchive(t *testing.T) {
	archive := &archiveStub{matches: []models.IncidentMatch{{ID: "inc-1", Score: 0.9, RootCause: "payment failure"}}}
	embed := func(evidence []models.Evidence) []float32 { return []float32{1} }

	o := NewOrchestrator(quietLogger(), []Strategy{
		stubStrategy{name: StageDeterministic, finding: &Finding{
			Service: "payment-service", Cause: "payment failure", Confidence: 0.9,
			Evidence: []string{"error status in span payment-service"},
		}},
	}, nil, archive, embed)

	result, err := o.Analyze(context.Background(), checkoutContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !archive.searched || !archive.upserted {
		t.Fatalf("archive not consulted: searched=%v upserted=%v", archive.searched, archive.upserted)
	}
	if len(result.SimilarIncidents) != 1 || result.SimilarIncidents[0].ID != "inc-1" {
		t.Fatalf("similar incidents not attached: %+v", result.SimilarIncidents)
	}
}

func TestOrchestratorArchiveOutageDegrades(t *testing.T) {
	archive := &archiveStub{err: errors.New("store down")}
	embed := func(evidence []models.Evidence) []float32 { return []float32{1} }

	o := NewOrchestrator(quietLogger(), []Strategy{
		stubStrategy{name: StageDeterministic, finding: &Finding{
			Service: "payment-service", Cause: "payment failure", Confidence: 0.9,
			Evidence: []string{"error status in span payment-service"},
		}},
	}, nil, archive, embed)

	result, err := o.Analyze(context.Background(), checkoutContext())
	if err != nil {
		t.Fatalf("archive outage must not fail analysis: %v", err)
	}
	if len(result.SimilarIncidents) != 0 {
		t.Fatalf("unexpected matches: %+v", result.SimilarIncidents)
	}
}
