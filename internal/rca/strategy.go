package rca

import (
	"context"

	"github.com/ollystack/correlation-engine/internal/models"
)

// Stage names, in escalation order.
const (
	StageDeterministic = "deterministic"
	StageStatistical   = "statistical"
	StageCausal        = "causal"
	StageGenerative    = "generative"
)

// Finding is one strategy's verdict. Service names the suspected culprit;
// strategies that only enrich an existing verdict leave it empty.
type Finding struct {
	Service      string
	Cause        string
	Confidence   float64
	Evidence     []string
	Affected     []string
	Remediations []string
	Summary      string
}

// Strategy is one root-cause analysis stage. prior carries the evidence
// accumulated by earlier stages so later ones can build on it. A nil
// finding with a nil error means the stage had nothing to say.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, cc *models.CorrelatedContext, prior []models.Evidence) (*Finding, error)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
