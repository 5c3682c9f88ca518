package rca

import (
	"context"
	"log/slog"

	"github.com/ollystack/correlation-engine/internal/llm"
	"github.com/ollystack/correlation-engine/internal/models"
)

// GenerativeStrategy asks the explanation capability to narrate the
// combined evidence of the earlier stages. It is strictly additive: it
// never names a culprit of its own, so it can never win the cause contest.
type GenerativeStrategy struct {
	logger   *slog.Logger
	provider llm.Provider
}

// NewGenerativeStrategy constructs the explanation stage. provider may be
// nil, in which case the stage reports nothing.
func NewGenerativeStrategy(logger *slog.Logger, provider llm.Provider) *GenerativeStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerativeStrategy{logger: logger, provider: provider}
}

func (s *GenerativeStrategy) Name() string { return StageGenerative }

// Analyze hands the accumulated evidence to the provider. Capability
// outages and timeouts are returned as errors for the orchestrator to
// absorb; the combined result from the earlier stages stands on its own.
func (s *GenerativeStrategy) Analyze(ctx context.Context, cc *models.CorrelatedContext, prior []models.Evidence) (*Finding, error) {
	if s.provider == nil || len(prior) == 0 {
		return nil, nil
	}

	rootCause := ""
	if cc.Insights != nil {
		rootCause = cc.Insights.RootCause
	}
	explanation, err := s.provider.Explain(ctx, llm.EvidenceBundle{
		CorrelationID: cc.CorrelationID,
		RootCause:     rootCause,
		Services:      cc.Services,
		Evidence:      prior,
	})
	if err != nil {
		return nil, err
	}

	return &Finding{
		Confidence:   explanation.Confidence,
		Remediations: explanation.Remediations,
		Summary:      explanation.Summary,
	}, nil
}
