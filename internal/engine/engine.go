package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode"

	"github.com/ollystack/correlation-engine/internal/cache"
	"github.com/ollystack/correlation-engine/internal/metrics"
	"github.com/ollystack/correlation-engine/internal/models"
)

const (
	maxCorrelationIDLen = 256
	cacheKeyPrefix      = "corr:"
)

// Engine assembles correlated contexts on demand and keeps recently built
// ones in the result cache so repeated queries replay the same view.
type Engine struct {
	logger  *slog.Logger
	fetcher *Fetcher
	cache   cache.Provider
	ttl     time.Duration
}

// NewEngine wires the fan-out fetcher and result cache together. ttl bounds
// how long an assembled context may be replayed before a rebuild.
func NewEngine(logger *slog.Logger, fetcher *Fetcher, provider cache.Provider, ttl time.Duration) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Engine{
		logger:  logger,
		fetcher: fetcher,
		cache:   provider,
		ttl:     ttl,
	}
}

// ValidateCorrelationID rejects identifiers that cannot be a propagated
// correlation key: empty, oversized, or containing whitespace or control
// characters.
func ValidateCorrelationID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", models.ErrInvalidCorrelationID)
	}
	if len(id) > maxCorrelationIDLen {
		return fmt.Errorf("%w: exceeds %d characters", models.ErrInvalidCorrelationID, maxCorrelationIDLen)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", models.ErrInvalidCorrelationID)
		}
	}
	return nil
}

// GetFullContext returns the correlated context for id, replaying a cached
// copy when one is still fresh. tr narrows the backend queries; a zero range
// means "whole retention window". Partial results are returned with the
// failed sources recorded; only total fan-out failure is an error, and such
// results are never cached.
func (e *Engine) GetFullContext(ctx context.Context, id string, tr models.TimeRange) (*models.CorrelatedContext, error) {
	start := time.Now()
	if err := ValidateCorrelationID(id); err != nil {
		metrics.ObserveContextRequest(time.Since(start), metrics.OutcomeError, metrics.CacheMiss)
		return nil, err
	}

	key := cacheKey(id, tr)
	if raw, err := e.cache.Get(ctx, key); err == nil {
		var cc models.CorrelatedContext
		if err := json.Unmarshal(raw, &cc); err == nil {
			metrics.ObserveContextRequest(time.Since(start), outcomeFor(&cc), metrics.CacheHit)
			return &cc, nil
		}
		e.logger.Warn("discarding undecodable cached context", "key", key, "error", err)
		_ = e.cache.Del(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		e.logger.Warn("cache lookup failed", "key", key, "error", err)
	}

	result, err := e.fetcher.Fetch(ctx, id, tr)
	for source := range result.SourceErrors {
		metrics.ObserveFetchFailure(string(source))
	}
	if err != nil {
		metrics.ObserveContextRequest(time.Since(start), metrics.OutcomeError, metrics.CacheMiss)
		return nil, err
	}

	cc := e.BuildContext(id, result)

	if raw, err := json.Marshal(cc); err != nil {
		e.logger.Warn("context not cacheable", "correlation_id", id, "error", err)
	} else if _, err := e.cache.SetNX(ctx, key, raw, e.ttl); err != nil {
		e.logger.Warn("cache store failed", "key", key, "error", err)
	}

	metrics.ObserveContextRequest(time.Since(start), outcomeFor(cc), metrics.CacheMiss)
	return cc, nil
}

// BuildContext assembles the deterministic context view from one fan-out
// result. Services is the sorted union of services seen across all records.
func (e *Engine) BuildContext(id string, result FetchResult) *models.CorrelatedContext {
	timeline, tr := AssembleTimeline(result.Spans, result.Logs, result.Metrics)

	cc := &models.CorrelatedContext{
		CorrelationID:  id,
		TimeRange:      tr,
		Spans:          result.Spans,
		Logs:           result.Logs,
		Metrics:        result.Metrics,
		Timeline:       timeline,
		Services:       serviceUnion(result),
		Errors:         DerivedErrors(result.Spans, result.Logs),
		MissingSources: result.MissingSources(),
		CreatedAt:      time.Now().UTC(),
	}

	if len(result.SourceErrors) > 0 {
		cc.SourceErrors = make(map[models.Source]string, len(result.SourceErrors))
		for source, err := range result.SourceErrors {
			cc.SourceErrors[source] = err.Error()
		}
	}
	return cc
}

// GetTimeline returns just the merged timeline for id. Detailed mode adds
// span-end markers so span lifetimes are visible as intervals.
func (e *Engine) GetTimeline(ctx context.Context, id string, tr models.TimeRange, detailed bool) ([]models.TimelineEvent, models.TimeRange, error) {
	cc, err := e.GetFullContext(ctx, id, tr)
	if err != nil {
		return nil, models.TimeRange{}, err
	}
	if !detailed {
		return cc.Timeline, cc.TimeRange, nil
	}
	timeline, detailedRange := AssembleDetailedTimeline(cc.Spans, cc.Logs, cc.Metrics)
	return timeline, detailedRange, nil
}

// CriticalStep is one hop of the critical path, flattened for transport.
type CriticalStep struct {
	Service   string        `json:"service"`
	Operation string        `json:"operation"`
	SpanID    string        `json:"spanId"`
	Duration  time.Duration `json:"durationNs"`
	Failed    bool          `json:"failed"`
}

// Impact is the derived blast-radius summary for one correlation identifier.
type Impact struct {
	CorrelationID       string             `json:"correlationId"`
	Services            []string           `json:"services"`
	Edges               []ServiceEdge      `json:"edges"`
	ErrorOrigin         *models.ErrorEvent `json:"errorOrigin,omitempty"`
	CriticalPath        []CriticalStep     `json:"criticalPath"`
	ErrorCountByService map[string]int     `json:"errorCountByService,omitempty"`
}

// GetImpact derives the service topology, critical path, and error origin
// for id from its correlated context.
func (e *Engine) GetImpact(ctx context.Context, id string, tr models.TimeRange) (*Impact, error) {
	cc, err := e.GetFullContext(ctx, id, tr)
	if err != nil {
		return nil, err
	}

	topo := ExtractTopology(cc.Spans)
	impact := &Impact{
		CorrelationID: id,
		Services:      topo.Services,
		Edges:         topo.Edges,
		CriticalPath:  criticalSteps(CriticalPath(cc.Spans)),
	}

	if origin, ok := ErrorOrigin(cc.Spans, cc.Logs); ok {
		impact.ErrorOrigin = &origin
	}
	if len(cc.Errors) > 0 {
		impact.ErrorCountByService = make(map[string]int)
		for _, ev := range cc.Errors {
			impact.ErrorCountByService[ev.Service]++
		}
	}
	return impact, nil
}

func criticalSteps(path []models.Span) []CriticalStep {
	steps := make([]CriticalStep, 0, len(path))
	for _, span := range path {
		steps = append(steps, CriticalStep{
			Service:   span.Service,
			Operation: span.Operation,
			SpanID:    span.SpanID,
			Duration:  span.Duration,
			Failed:    span.IsError(),
		})
	}
	return steps
}

func serviceUnion(result FetchResult) []string {
	seen := make(map[string]bool)
	for _, span := range result.Spans {
		if span.Service != "" {
			seen[span.Service] = true
		}
	}
	for _, entry := range result.Logs {
		if entry.Service != "" {
			seen[entry.Service] = true
		}
	}
	for _, point := range result.Metrics {
		if svc := point.Service(); svc != "" {
			seen[svc] = true
		}
	}
	services := make([]string, 0, len(seen))
	for svc := range seen {
		services = append(services, svc)
	}
	sort.Strings(services)
	return services
}

func outcomeFor(cc *models.CorrelatedContext) string {
	if len(cc.MissingSources) > 0 {
		return metrics.OutcomePartial
	}
	return metrics.OutcomeSuccess
}

func cacheKey(id string, tr models.TimeRange) string {
	if tr.IsZero() {
		return cacheKeyPrefix + id
	}
	return fmt.Sprintf("%s%s:%d:%d", cacheKeyPrefix, id, tr.Start.UnixNano(), tr.End.UnixNano())
}
