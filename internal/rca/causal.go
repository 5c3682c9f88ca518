package rca

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ollystack/correlation-engine/internal/engine"
	"github.com/ollystack/correlation-engine/internal/models"
)

// CausalStrategy reasons over the call topology: when an upstream service
// degraded before the symptomatic one, the upstream is the better suspect.
type CausalStrategy struct {
	logger *slog.Logger
}

// NewCausalStrategy constructs the dependency-graph stage.
func NewCausalStrategy(logger *slog.Logger) *CausalStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &CausalStrategy{logger: logger}
}

func (s *CausalStrategy) Name() string { return StageCausal }

// Analyze finds the symptomatic service and walks its upstream edges. An
// upstream supports the causal verdict when it showed errors of its own or
// its first activity precedes the symptom.
func (s *CausalStrategy) Analyze(ctx context.Context, cc *models.CorrelatedContext, _ []models.Evidence) (*Finding, error) {
	if len(cc.Spans) == 0 {
		return nil, nil
	}
	origin, ok := engine.ErrorOrigin(cc.Spans, cc.Logs)
	if !ok {
		return nil, nil
	}

	topo := engine.ExtractTopology(cc.Spans)
	upstreams := topo.Upstreams(origin.Service)
	if len(upstreams) == 0 {
		return nil, nil
	}

	symptomTime := origin.Timestamp
	supporting := 0
	var (
		suggested      string
		suggestedScore float64
		evidence       []string
	)
	for _, upstream := range upstreams {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errCount, callCount := edgeStats(topo, upstream, origin.Service)
		firstSeen := firstActivity(cc, upstream)

		switch {
		case errCount > 0:
			supporting++
			evidence = append(evidence, fmt.Sprintf(
				"%d of %d calls from %s into %s failed", errCount, callCount, upstream, origin.Service))
			score := float64(errCount) / float64(callCount)
			if suggested == "" || score > suggestedScore {
				suggested, suggestedScore = upstream, score
			}
		case !firstSeen.IsZero() && firstSeen.Before(symptomTime):
			supporting++
			evidence = append(evidence, fmt.Sprintf(
				"%s was active %s before the first error in %s",
				upstream, symptomTime.Sub(firstSeen), origin.Service))
			if suggested == "" {
				suggested, suggestedScore = upstream, 0.5
			}
		default:
			evidence = append(evidence, fmt.Sprintf(
				"%s shows no degradation preceding %s", upstream, origin.Service))
		}
	}
	if supporting == 0 || suggested == "" {
		return nil, nil
	}

	support := float64(supporting) / float64(len(upstreams))
	return &Finding{
		Service: suggested,
		Cause: fmt.Sprintf("degradation in upstream %s explains the symptoms in %s",
			suggested, origin.Service),
		Confidence: clamp(0.4+0.6*support, 0, 1),
		Evidence:   evidence,
		Affected:   affectedFrom(cc, suggested),
		Summary: fmt.Sprintf("had %s behaved normally, %s would likely not have failed",
			suggested, origin.Service),
	}, nil
}

func edgeStats(topo engine.Topology, source, target string) (errors, calls int) {
	for _, edge := range topo.Edges {
		if edge.Source == source && edge.Target == target {
			return edge.Errors, edge.Calls
		}
	}
	return 0, 0
}

func firstActivity(cc *models.CorrelatedContext, service string) time.Time {
	var first time.Time
	for _, span := range cc.Spans {
		if span.Service != service {
			continue
		}
		if first.IsZero() || span.StartTime.Before(first) {
			first = span.StartTime
		}
	}
	for _, entry := range cc.Logs {
		if entry.Service != service {
			continue
		}
		if first.IsZero() || entry.Timestamp.Before(first) {
			first = entry.Timestamp
		}
	}
	return first
}
