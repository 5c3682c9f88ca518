package rca

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ollystack/correlation-engine/internal/metrics"
	"github.com/ollystack/correlation-engine/internal/models"
)

// Default per-stage budgets, escalation order cheap to expensive.
var defaultBudgets = map[string]time.Duration{
	StageDeterministic: 10 * time.Millisecond,
	StageStatistical:   100 * time.Millisecond,
	StageCausal:        500 * time.Millisecond,
	StageGenerative:    2 * time.Second,
}

// contestMargin is how much more confident a later strategy must be to
// overturn an earlier, cheaper conclusion.
const contestMargin = 0.3

// IncidentArchive persists finished analyses and retrieves similar past
// incidents by evidence embedding.
type IncidentArchive interface {
	UpsertIncident(ctx context.Context, result models.RCAResult, vector []float32) error
	SearchSimilar(ctx context.Context, vector []float32, topK int, service string) ([]models.IncidentMatch, error)
}

// EvidenceEmbedder turns an evidence list into a vector for the archive.
type EvidenceEmbedder func(evidence []models.Evidence) []float32

// Orchestrator runs the strategy chain in escalation order, each stage
// boxed by its own budget, and combines the findings. Evidence from
// earlier stages is never discarded; a later stage only overturns an
// earlier cause when its confidence clears the contest margin.
type Orchestrator struct {
	logger     *slog.Logger
	strategies []Strategy
	budgets    map[string]time.Duration
	archive    IncidentArchive
	embed      EvidenceEmbedder
	topK       int
}

// NewOrchestrator constructs the chain. archive and embed may be nil,
// disabling similar-incident retrieval. Budgets not present in budgets
// fall back to the defaults.
func NewOrchestrator(logger *slog.Logger, strategies []Strategy, budgets map[string]time.Duration, archive IncidentArchive, embed EvidenceEmbedder) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	merged := make(map[string]time.Duration, len(defaultBudgets))
	for stage, budget := range defaultBudgets {
		merged[stage] = budget
	}
	for stage, budget := range budgets {
		if budget > 0 {
			merged[stage] = budget
		}
	}
	return &Orchestrator{
		logger:     logger,
		strategies: strategies,
		budgets:    merged,
		archive:    archive,
		embed:      embed,
		topK:       5,
	}
}

// Analyze runs every strategy against the context and returns the combined
// verdict. Stage failures and overruns are absorbed; the result reflects
// whatever the surviving stages concluded.
func (o *Orchestrator) Analyze(ctx context.Context, cc *models.CorrelatedContext) (*models.RCAResult, error) {
	var (
		evidence   []models.Evidence
		chosen     *Finding
		confidence = make(map[string]float64)
		remedies   []string
		summary    string
	)

	for _, strategy := range o.strategies {
		if ctx.Err() != nil {
			break
		}
		finding := o.runStage(ctx, strategy, cc, chosen, evidence)
		if finding == nil {
			continue
		}

		stage := strategy.Name()
		for _, line := range finding.Evidence {
			evidence = append(evidence, models.Evidence{Stage: stage, Description: line})
		}
		remedies = mergeUnique(remedies, finding.Remediations)
		if finding.Summary != "" {
			summary = finding.Summary
		}

		if finding.Service == "" {
			// Additive stage: supports whatever cause stands.
			if chosen != nil && finding.Confidence > confidence[chosen.Service] {
				confidence[chosen.Service] = finding.Confidence
			}
			continue
		}
		if finding.Confidence > confidence[finding.Service] {
			confidence[finding.Service] = finding.Confidence
		}

		switch {
		case chosen == nil:
			chosen = finding
		case finding.Service == chosen.Service:
			// Same culprit, keep the earlier framing.
		case finding.Confidence >= confidence[chosen.Service]+contestMargin:
			o.logger.Debug("root cause overturned",
				"from", chosen.Service, "to", finding.Service,
				"margin", finding.Confidence-confidence[chosen.Service])
			chosen = finding
		default:
			o.logger.Debug("root cause contested but kept",
				"kept", chosen.Service, "challenger", finding.Service)
		}
	}

	result := &models.RCAResult{
		AnalysisID:    uuid.NewString(),
		CorrelationID: cc.CorrelationID,
		Evidence:      evidence,
		Remediations:  remedies,
		Summary:       summary,
		CreatedAt:     time.Now().UTC(),
	}
	if chosen != nil {
		result.RootCause = chosen.Cause
		result.Confidence = confidence[chosen.Service]
		result.AffectedServices = chosen.Affected
	} else {
		result.RootCause = "no conclusive root cause"
		result.AffectedServices = cc.Services
	}

	o.consultArchive(ctx, result, chosen)
	return result, nil
}

// runStage executes one strategy under its budget, recording latency and
// absorbing failure.
func (o *Orchestrator) runStage(ctx context.Context, strategy Strategy, cc *models.CorrelatedContext, chosen *Finding, prior []models.Evidence) *Finding {
	stage := strategy.Name()
	budget, ok := o.budgets[stage]
	if !ok {
		budget = 500 * time.Millisecond
	}
	stageCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// Later stages see the standing verdict without touching the shared
	// context value.
	view := cc
	if chosen != nil {
		working := *cc
		working.Insights = &models.RCAResult{RootCause: chosen.Cause}
		view = &working
	}

	start := time.Now()
	finding, err := strategy.Analyze(stageCtx, view, prior)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		metrics.ObserveRCAStage(stage, elapsed, "error")
		o.logger.Warn("analysis stage skipped", "stage", stage, "error", err)
		return nil
	case finding == nil:
		metrics.ObserveRCAStage(stage, elapsed, "empty")
		return nil
	default:
		metrics.ObserveRCAStage(stage, elapsed, "ok")
		finding.Confidence = clamp(finding.Confidence, 0, 1)
		return finding
	}
}

// consultArchive looks up similar past incidents and records this one.
// Archive trouble degrades the result, never fails it.
func (o *Orchestrator) consultArchive(ctx context.Context, result *models.RCAResult, chosen *Finding) {
	if o.archive == nil || o.embed == nil || len(result.Evidence) == 0 {
		return
	}
	vector := o.embed(result.Evidence)

	service := ""
	if chosen != nil {
		service = chosen.Service
	}
	matches, err := o.archive.SearchSimilar(ctx, vector, o.topK, service)
	if err != nil {
		o.logger.Warn("similar-incident search failed", "error", err)
	} else {
		result.SimilarIncidents = matches
	}

	if err := o.archive.UpsertIncident(ctx, *result, vector); err != nil {
		o.logger.Warn("incident upsert failed", "analysis_id", result.AnalysisID, "error", err)
	}
}

func mergeUnique(into, add []string) []string {
	seen := make(map[string]bool, len(into))
	for _, s := range into {
		seen[s] = true
	}
	for _, s := range add {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		into = append(into, s)
	}
	return into
}
