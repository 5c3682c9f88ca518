package anomaly

import (
	"sync"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// Pair identifies one watched (service, metric) series.
type Pair struct {
	Service string
	Metric  string
}

// BaselineStore holds the learned baselines keyed by (service, metric).
// Baselines are replaced whole; readers never observe a partial update.
type BaselineStore struct {
	mu        sync.RWMutex
	baselines map[Pair]*models.Baseline
	maxAge    time.Duration
}

// NewBaselineStore constructs an empty store. maxAge bounds how long a
// baseline stays fully trusted; past it, lookups report it stale.
func NewBaselineStore(maxAge time.Duration) *BaselineStore {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &BaselineStore{
		baselines: make(map[Pair]*models.Baseline),
		maxAge:    maxAge,
	}
}

// Lookup returns the baseline for the pair and its lifecycle state. A nil
// baseline always pairs with BaselineUnlearned.
func (s *BaselineStore) Lookup(service, metric string) (*models.Baseline, models.BaselineState) {
	s.mu.RLock()
	baseline, ok := s.baselines[Pair{Service: service, Metric: metric}]
	s.mu.RUnlock()

	if !ok {
		return nil, models.BaselineUnlearned
	}
	if time.Since(baseline.LearnedAt) > s.maxAge {
		return baseline, models.BaselineStale
	}
	return baseline, models.BaselineLearned
}

// Replace installs a freshly learned baseline for its pair.
func (s *BaselineStore) Replace(baseline *models.Baseline) {
	if baseline == nil {
		return
	}
	s.mu.Lock()
	s.baselines[Pair{Service: baseline.Service, Metric: baseline.Metric}] = baseline
	s.mu.Unlock()
}

// Pairs returns the pairs currently holding a baseline.
func (s *BaselineStore) Pairs() []Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make([]Pair, 0, len(s.baselines))
	for pair := range s.baselines {
		pairs = append(pairs, pair)
	}
	return pairs
}

// Len returns the number of learned baselines.
func (s *BaselineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}
