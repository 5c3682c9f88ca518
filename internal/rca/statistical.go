package rca

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ollystack/correlation-engine/internal/anomaly"
	"github.com/ollystack/correlation-engine/internal/models"
)

// StatisticalStrategy scores the context's metric points against learned
// baselines and blames the service with the strongest deviation.
type StatisticalStrategy struct {
	logger   *slog.Logger
	detector *anomaly.Detector
}

// NewStatisticalStrategy constructs the baseline-comparison stage.
func NewStatisticalStrategy(logger *slog.Logger, detector *anomaly.Detector) *StatisticalStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatisticalStrategy{logger: logger, detector: detector}
}

func (s *StatisticalStrategy) Name() string { return StageStatistical }

// Analyze scores every metric point in the context. Pairs without a learned
// baseline are skipped; if nothing scores anomalous there is no finding.
func (s *StatisticalStrategy) Analyze(ctx context.Context, cc *models.CorrelatedContext, _ []models.Evidence) (*Finding, error) {
	if s.detector == nil || len(cc.Metrics) == 0 {
		return nil, nil
	}

	var anomalies []models.AnomalyResult
	for _, point := range cc.Metrics {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		service := point.Service()
		if service == "" {
			continue
		}
		result := s.detector.Detect(ctx, service, point.Name, point.Value, point.Timestamp)
		if result.InsufficientData || !result.Anomaly {
			continue
		}
		anomalies = append(anomalies, result)
	}
	if len(anomalies) == 0 {
		return nil, nil
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Severity > anomalies[j].Severity
	})
	worst := anomalies[0]

	finding := &Finding{
		Service: worst.Service,
		Cause: fmt.Sprintf("%s deviates from its learned baseline on %s",
			worst.Service, worst.Metric),
		Confidence: clamp(0.5+worst.Severity/20, 0, 0.85),
		Affected:   affectedFrom(cc, worst.Service),
		Summary: fmt.Sprintf("baseline comparison implicates %s via %s",
			worst.Service, worst.Metric),
	}
	if worst.LowConfidence {
		finding.Confidence = clamp(finding.Confidence-0.2, 0, 1)
	}
	for _, a := range anomalies {
		finding.Evidence = append(finding.Evidence,
			fmt.Sprintf("metric %s on %s at %.4g, expected %.4g (%+.1f%%)",
				a.Metric, a.Service, a.Actual, a.Expected, a.DeviationPct))
	}
	return finding, nil
}
