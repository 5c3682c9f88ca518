package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// SignalReader defines the signal store behaviour the fetcher depends on.
type SignalReader interface {
	FetchSpans(ctx context.Context, correlationID string, tr models.TimeRange) ([]models.Span, error)
	FetchLogs(ctx context.Context, correlationID string, tr models.TimeRange) ([]models.LogEntry, error)
	FetchMetricPoints(ctx context.Context, correlationID string, tr models.TimeRange) ([]models.MetricPoint, error)
}

// FetchResult carries the best-effort outcome of one fan-out. A source
// appears in SourceErrors when its sub-fetch failed; its records slice is
// then nil and must be read as "unknown", not "empty".
type FetchResult struct {
	Spans        []models.Span
	Logs         []models.LogEntry
	Metrics      []models.MetricPoint
	SourceErrors map[models.Source]error
}

// MissingSources lists failed sources in stable order.
func (r FetchResult) MissingSources() []models.Source {
	var missing []models.Source
	for _, s := range models.Sources() {
		if _, ok := r.SourceErrors[s]; ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// AllFailed reports whether no source produced a result.
func (r FetchResult) AllFailed() bool {
	return len(r.SourceErrors) == len(models.Sources())
}

// Fetcher issues the three signal reads concurrently, each boxed in its own
// timeout. One source failing never aborts the other two.
type Fetcher struct {
	logger        *slog.Logger
	store         SignalReader
	sourceTimeout time.Duration
}

// NewFetcher constructs a fan-out fetcher. sourceTimeout bounds each
// sub-fetch independently (default 2s).
func NewFetcher(logger *slog.Logger, store SignalReader, sourceTimeout time.Duration) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if sourceTimeout <= 0 {
		sourceTimeout = 2 * time.Second
	}
	return &Fetcher{logger: logger, store: store, sourceTimeout: sourceTimeout}
}

// Fetch runs the fan-out. All three sub-fetches start before any is joined;
// the caller's deadline propagates into each. When every source fails the
// result is ErrAllSourcesFailed; otherwise partial results are returned
// with per-source error annotations.
func (f *Fetcher) Fetch(ctx context.Context, correlationID string, tr models.TimeRange) (FetchResult, error) {
	result := FetchResult{SourceErrors: make(map[models.Source]error)}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	fail := func(source models.Source, err error) {
		mu.Lock()
		result.SourceErrors[source] = err
		mu.Unlock()
		f.logger.Warn("signal fetch failed",
			slog.String("correlation_id", correlationID),
			slog.String("source", string(source)),
			slog.Any("error", err))
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		subCtx, cancel := context.WithTimeout(ctx, f.sourceTimeout)
		defer cancel()
		spans, err := f.store.FetchSpans(subCtx, correlationID, tr)
		if err != nil {
			fail(models.SourceSpans, err)
			return
		}
		mu.Lock()
		result.Spans = spans
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		subCtx, cancel := context.WithTimeout(ctx, f.sourceTimeout)
		defer cancel()
		logs, err := f.store.FetchLogs(subCtx, correlationID, tr)
		if err != nil {
			fail(models.SourceLogs, err)
			return
		}
		mu.Lock()
		result.Logs = logs
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		subCtx, cancel := context.WithTimeout(ctx, f.sourceTimeout)
		defer cancel()
		points, err := f.store.FetchMetricPoints(subCtx, correlationID, tr)
		if err != nil {
			fail(models.SourceMetrics, err)
			return
		}
		mu.Lock()
		result.Metrics = points
		mu.Unlock()
	}()
	wg.Wait()

	if result.AllFailed() {
		return result, fmt.Errorf("correlation %s: %w", correlationID, models.ErrAllSourcesFailed)
	}
	return result, nil
}
