package models

import "time"

// EventKind classifies a timeline event. Kind priority breaks ties between
// events sharing a timestamp: span-start < log < metric < span-end.
type EventKind string

const (
	KindSpanStart EventKind = "span-start"
	KindLog       EventKind = "log"
	KindMetric    EventKind = "metric"
	KindSpanEnd   EventKind = "span-end"
)

// Priority returns the tie-break rank for equal-timestamp events.
func (k EventKind) Priority() int {
	switch k {
	case KindSpanStart:
		return 0
	case KindLog:
		return 1
	case KindMetric:
		return 2
	case KindSpanEnd:
		return 3
	}
	return 4
}

// TimelineEvent is the normalized projection of a span, log entry, or
// metric point into the merged request timeline.
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	Service   string    `json:"service"`
	Summary   string    `json:"summary"`
	Ref       string    `json:"ref,omitempty"`
}

// ErrorEvent is one error observation derived from the fetched records.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Kind      EventKind `json:"kind"`
	Summary   string    `json:"summary"`
	Ref       string    `json:"ref,omitempty"`
}

// CorrelatedContext is the assembled view of everything that happened for
// one correlation identifier. Instances are immutable once constructed;
// repeated queries either replay the cached copy or rebuild a fresh one.
type CorrelatedContext struct {
	CorrelationID  string            `json:"correlationId"`
	TimeRange      TimeRange         `json:"timeRange"`
	Spans          []Span            `json:"spans"`
	Logs           []LogEntry        `json:"logs"`
	Metrics        []MetricPoint     `json:"metrics"`
	Timeline       []TimelineEvent   `json:"timeline"`
	Services       []string          `json:"services"`
	Errors         []ErrorEvent      `json:"errors"`
	MissingSources []Source          `json:"missingSources,omitempty"`
	SourceErrors   map[Source]string `json:"sourceErrors,omitempty"`
	Insights       *RCAResult        `json:"insights,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// SourceMissing reports whether the given source failed during fan-out.
// Callers must treat missing sources as "unknown", never as empty evidence.
func (c *CorrelatedContext) SourceMissing(source Source) bool {
	for _, s := range c.MissingSources {
		if s == source {
			return true
		}
	}
	return false
}

// Empty reports whether no source returned any record (an isolated or
// unrecorded request); this is a valid degenerate context, not an error.
func (c *CorrelatedContext) Empty() bool {
	return len(c.Spans) == 0 && len(c.Logs) == 0 && len(c.Metrics) == 0
}
