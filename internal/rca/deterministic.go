package rca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ollystack/correlation-engine/internal/engine"
	"github.com/ollystack/correlation-engine/internal/models"
)

// Pattern is one known error signature with canned remediations.
type Pattern struct {
	ID           string   `yaml:"id"`
	Contains     []string `yaml:"contains"`
	Cause        string   `yaml:"cause"`
	Remediations []string `yaml:"remediations"`
}

type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// LoadPatterns reads the error-pattern pack from path. An empty path or a
// missing file yields no patterns without error.
func LoadPatterns(path string) ([]Pattern, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Patterns, nil
}

// DeterministicStrategy finds the first error in the trace, matches known
// error patterns, and falls back to the slowest span when nothing failed.
type DeterministicStrategy struct {
	logger   *slog.Logger
	patterns []Pattern
}

// NewDeterministicStrategy constructs the cheapest strategy in the chain.
func NewDeterministicStrategy(logger *slog.Logger, patterns []Pattern) *DeterministicStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeterministicStrategy{logger: logger, patterns: patterns}
}

func (s *DeterministicStrategy) Name() string { return StageDeterministic }

// Analyze inspects the derived errors. When the context holds no errors at
// all, the slowest span is offered as a weak latency suspect.
func (s *DeterministicStrategy) Analyze(ctx context.Context, cc *models.CorrelatedContext, _ []models.Evidence) (*Finding, error) {
	origin, ok := engine.ErrorOrigin(cc.Spans, cc.Logs)
	if !ok {
		return s.slowestSpan(cc)
	}

	finding := &Finding{
		Service:    origin.Service,
		Cause:      fmt.Sprintf("first error observed in %s", origin.Service),
		Confidence: 0.9,
		Evidence:   errorEvidence(cc),
		Affected:   affectedFrom(cc, origin.Service),
		Summary: fmt.Sprintf("%s reported the earliest error for %s",
			origin.Service, cc.CorrelationID),
	}

	if pattern, matched := s.matchPattern(cc); matched {
		finding.Cause = pattern.Cause
		finding.Remediations = append(finding.Remediations, pattern.Remediations...)
		finding.Evidence = append(finding.Evidence,
			fmt.Sprintf("matched known error pattern %s", pattern.ID))
	}
	return finding, nil
}

func (s *DeterministicStrategy) slowestSpan(cc *models.CorrelatedContext) (*Finding, error) {
	if len(cc.Spans) == 0 {
		return nil, nil
	}
	slowest := cc.Spans[0]
	for _, span := range cc.Spans[1:] {
		if span.Duration > slowest.Duration {
			slowest = span
		}
	}
	return &Finding{
		Service:    slowest.Service,
		Cause:      fmt.Sprintf("slowest span %s in %s", slowest.Operation, slowest.Service),
		Confidence: 0.4,
		Evidence: []string{fmt.Sprintf("span %s in %s took %s",
			slowest.Operation, slowest.Service, slowest.Duration)},
		Affected: affectedFrom(cc, slowest.Service),
		Summary: fmt.Sprintf("no errors recorded; %s dominated latency for %s",
			slowest.Service, cc.CorrelationID),
	}, nil
}

func (s *DeterministicStrategy) matchPattern(cc *models.CorrelatedContext) (Pattern, bool) {
	for _, pattern := range s.patterns {
		for _, needle := range pattern.Contains {
			if needle == "" {
				continue
			}
			lowered := strings.ToLower(needle)
			for _, entry := range cc.Logs {
				if entry.IsError() && strings.Contains(strings.ToLower(entry.Body), lowered) {
					return pattern, true
				}
			}
			for _, span := range cc.Spans {
				if !span.IsError() {
					continue
				}
				for _, tag := range span.Tags {
					if strings.Contains(strings.ToLower(tag), lowered) {
						return pattern, true
					}
				}
			}
		}
	}
	return Pattern{}, false
}

// errorEvidence lists the error observations in timeline order: error spans
// by service, then error logs by offset from the context start.
func errorEvidence(cc *models.CorrelatedContext) []string {
	spans := make([]models.Span, 0, len(cc.Spans))
	for _, span := range cc.Spans {
		if span.IsError() {
			spans = append(spans, span)
		}
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartTime.Before(spans[j].StartTime)
	})

	evidence := make([]string, 0, len(spans))
	for _, span := range spans {
		evidence = append(evidence, fmt.Sprintf("error status in span %s", span.Service))
	}

	logs := make([]models.LogEntry, 0, len(cc.Logs))
	for _, entry := range cc.Logs {
		if entry.IsError() {
			logs = append(logs, entry)
		}
	}
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.Before(logs[j].Timestamp)
	})
	for _, entry := range logs {
		offset := entry.Timestamp.Sub(cc.TimeRange.Start).Milliseconds()
		evidence = append(evidence, fmt.Sprintf("log %s at t=%dms",
			strings.ToUpper(entry.Severity), offset))
	}
	return evidence
}

func affectedFrom(cc *models.CorrelatedContext, primary string) []string {
	affected := []string{primary}
	for _, svc := range cc.Services {
		if svc != primary {
			affected = append(affected, svc)
		}
	}
	return affected
}
