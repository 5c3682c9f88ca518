package models

import "time"

// BaselineState tracks the lifecycle of a learned baseline.
type BaselineState string

const (
	// BaselineUnlearned means no baseline exists yet; detection reports
	// insufficient data instead of scoring.
	BaselineUnlearned BaselineState = "unlearned"
	// BaselineLearned means the baseline is fresh and fully trusted.
	BaselineLearned BaselineState = "learned"
	// BaselineStale means the baseline aged out without a refresh; it is
	// still usable but detection results are annotated low-confidence.
	BaselineStale BaselineState = "stale"
)

// Baseline is the learned statistical description of "normal" for one
// (service, metric) pair. Baselines are built whole by the learning job and
// swapped in atomically; they are never mutated in place.
type Baseline struct {
	Service    string       `json:"service"`
	Metric     string       `json:"metric"`
	Mean       float64      `json:"mean"`
	Std        float64      `json:"std"`
	P50        float64      `json:"p50"`
	P95        float64      `json:"p95"`
	P99        float64      `json:"p99"`
	HourOfDay  [24]float64  `json:"hourOfDay"`
	DayOfWeek  [7]float64   `json:"dayOfWeek"`
	HourOfWeek [168]float64 `json:"hourOfWeek"`
	// Per-bucket sample counts record which seasonal buckets were actually
	// learned, so a genuine bucket mean of zero is distinguishable from an
	// empty bucket.
	HourOfDayN  [24]int       `json:"hourOfDayN"`
	DayOfWeekN  [7]int        `json:"dayOfWeekN"`
	HourOfWeekN [168]int      `json:"hourOfWeekN"`
	SampleCount int           `json:"sampleCount"`
	HistorySpan time.Duration `json:"historySpan"`
	LearnedAt   time.Time     `json:"learnedAt"`
}

// SeasonalExpected returns the expected value for the bucket containing t,
// preferring the finest-grained component that was learned.
func (b *Baseline) SeasonalExpected(t time.Time) float64 {
	hourOfWeek := int(t.Weekday())*24 + t.Hour()
	if b.HourOfWeekN[hourOfWeek] > 0 {
		return b.HourOfWeek[hourOfWeek]
	}
	if b.HourOfDayN[t.Hour()] > 0 {
		return b.HourOfDay[t.Hour()]
	}
	if b.DayOfWeekN[int(t.Weekday())] > 0 {
		return b.DayOfWeek[int(t.Weekday())]
	}
	return b.Mean
}

// AnomalyResult is the outcome of scoring one value against a baseline.
type AnomalyResult struct {
	Service          string    `json:"service"`
	Metric           string    `json:"metric"`
	Anomaly          bool      `json:"anomaly"`
	Severity         float64   `json:"severity"`
	Expected         float64   `json:"expected"`
	Actual           float64   `json:"actual"`
	DeviationPct     float64   `json:"deviationPct"`
	Layers           []string  `json:"layers,omitempty"`
	Explanation      string    `json:"explanation"`
	LowConfidence    bool      `json:"lowConfidence,omitempty"`
	InsufficientData bool      `json:"insufficientData,omitempty"`
	EvaluatedAt      time.Time `json:"evaluatedAt"`
}
