package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// HistoryReader reads the full metric series for one (service, metric)
// pair, independent of any correlation identifier.
type HistoryReader interface {
	ReadHistory(ctx context.Context, service, metric string, tr models.TimeRange) ([]models.MetricPoint, error)
}

// Learner builds baselines from metric history and keeps them fresh. A full
// relearn of every watched pair runs daily; an hourly pass refreshes only
// the pairs whose baseline has gone stale.
type Learner struct {
	logger       *slog.Logger
	reader       HistoryReader
	store        *BaselineStore
	watch        []Pair
	minHistory   time.Duration
	lookback     time.Duration
	fullEvery    time.Duration
	refreshEvery time.Duration
}

// LearnerOptions configures a Learner. Zero fields take defaults.
type LearnerOptions struct {
	// MinHistory is the shortest history span a baseline may be learned
	// from. Defaults to seven days so weekly seasonality is covered.
	MinHistory time.Duration
	// Lookback is how far back each learning pass reads. Defaults to
	// twice MinHistory.
	Lookback time.Duration
	// FullInterval is the cadence of complete relearns. Defaults to 24h.
	FullInterval time.Duration
	// RefreshInterval is the cadence of stale-only refreshes. Defaults
	// to 1h.
	RefreshInterval time.Duration
}

// NewLearner constructs a learner over the given watch list.
func NewLearner(logger *slog.Logger, reader HistoryReader, store *BaselineStore, watch []Pair, opts LearnerOptions) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinHistory <= 0 {
		opts.MinHistory = 7 * 24 * time.Hour
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 2 * opts.MinHistory
	}
	if opts.FullInterval <= 0 {
		opts.FullInterval = 24 * time.Hour
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Hour
	}
	return &Learner{
		logger:       logger,
		reader:       reader,
		store:        store,
		watch:        watch,
		minHistory:   opts.MinHistory,
		lookback:     opts.Lookback,
		fullEvery:    opts.FullInterval,
		refreshEvery: opts.RefreshInterval,
	}
}

// Run learns all watched pairs once, then loops on the refresh and full
// tickers until ctx is cancelled.
func (l *Learner) Run(ctx context.Context) {
	l.LearnAll(ctx)

	full := time.NewTicker(l.fullEvery)
	refresh := time.NewTicker(l.refreshEvery)
	defer full.Stop()
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-full.C:
			l.LearnAll(ctx)
		case <-refresh.C:
			l.refreshStale(ctx)
		}
	}
}

// LearnAll relearns every watched pair. Pairs without enough history are
// skipped and retried on the next pass.
func (l *Learner) LearnAll(ctx context.Context) {
	for _, pair := range l.watch {
		if ctx.Err() != nil {
			return
		}
		if err := l.Learn(ctx, pair); err != nil {
			l.logger.Warn("baseline learning skipped",
				"service", pair.Service, "metric", pair.Metric, "error", err)
		}
	}
}

func (l *Learner) refreshStale(ctx context.Context) {
	for _, pair := range l.watch {
		if ctx.Err() != nil {
			return
		}
		if _, state := l.store.Lookup(pair.Service, pair.Metric); state == models.BaselineLearned {
			continue
		}
		if err := l.Learn(ctx, pair); err != nil {
			l.logger.Warn("baseline refresh skipped",
				"service", pair.Service, "metric", pair.Metric, "error", err)
		}
	}
}

// Learn reads the pair's history and installs a new baseline.
func (l *Learner) Learn(ctx context.Context, pair Pair) error {
	now := time.Now().UTC()
	tr := models.TimeRange{Start: now.Add(-l.lookback), End: now}

	points, err := l.reader.ReadHistory(ctx, pair.Service, pair.Metric, tr)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	baseline, err := ComputeBaseline(pair.Service, pair.Metric, points, l.minHistory)
	if err != nil {
		return err
	}
	l.store.Replace(baseline)
	l.logger.Info("baseline learned",
		"service", pair.Service, "metric", pair.Metric,
		"samples", baseline.SampleCount, "history", baseline.HistorySpan)
	return nil
}

// ComputeBaseline derives the statistical and seasonal description of the
// series. The points must span at least minHistory, otherwise
// ErrInsufficientBaseline is returned and no partial baseline is produced.
func ComputeBaseline(service, metric string, points []models.MetricPoint, minHistory time.Duration) (*models.Baseline, error) {
	if minHistory <= 0 {
		minHistory = 7 * 24 * time.Hour
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no samples for %s/%s", models.ErrInsufficientBaseline, service, metric)
	}

	earliest, latest := points[0].Timestamp, points[0].Timestamp
	for _, p := range points[1:] {
		if p.Timestamp.Before(earliest) {
			earliest = p.Timestamp
		}
		if p.Timestamp.After(latest) {
			latest = p.Timestamp
		}
	}
	span := latest.Sub(earliest)
	if span < minHistory {
		return nil, fmt.Errorf("%w: %s/%s has %s of history, need %s",
			models.ErrInsufficientBaseline, service, metric, span, minHistory)
	}

	values := make([]float64, len(points))
	var sum float64
	for i, p := range points {
		values[i] = p.Value
		sum += p.Value
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(values)))

	sort.Float64s(values)

	baseline := &models.Baseline{
		Service:     service,
		Metric:      metric,
		Mean:        mean,
		Std:         std,
		P50:         percentile(values, 0.50),
		P95:         percentile(values, 0.95),
		P99:         percentile(values, 0.99),
		SampleCount: len(points),
		HistorySpan: span,
		LearnedAt:   time.Now().UTC(),
	}

	var (
		hourSum     [24]float64
		daySum      [7]float64
		hourWeekSum [168]float64
	)
	for _, p := range points {
		t := p.Timestamp.UTC()
		hour := t.Hour()
		day := int(t.Weekday())
		hourOfWeek := day*24 + hour
		hourSum[hour] += p.Value
		baseline.HourOfDayN[hour]++
		daySum[day] += p.Value
		baseline.DayOfWeekN[day]++
		hourWeekSum[hourOfWeek] += p.Value
		baseline.HourOfWeekN[hourOfWeek]++
	}
	for i, n := range baseline.HourOfDayN {
		if n > 0 {
			baseline.HourOfDay[i] = hourSum[i] / float64(n)
		}
	}
	for i, n := range baseline.DayOfWeekN {
		if n > 0 {
			baseline.DayOfWeek[i] = daySum[i] / float64(n)
		}
	}
	for i, n := range baseline.HourOfWeekN {
		if n > 0 {
			baseline.HourOfWeek[i] = hourWeekSum[i] / float64(n)
		}
	}
	return baseline, nil
}

// percentile reads the q-quantile from an ascending-sorted slice using
// nearest-rank. Results are monotonic in q.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
