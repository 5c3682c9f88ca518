package models

import (
	"strings"
	"time"
)

// Source enumerates the signal stores the engine fans out to.
type Source string

const (
	SourceSpans   Source = "spans"
	SourceLogs    Source = "logs"
	SourceMetrics Source = "metrics"
)

// Sources lists all fan-out targets in a stable order.
func Sources() []Source {
	return []Source{SourceSpans, SourceLogs, SourceMetrics}
}

// Span status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Span is a single timed operation within a distributed trace. Spans are
// write-once at ingestion and read-only here.
type Span struct {
	TraceID       string            `json:"traceId"`
	SpanID        string            `json:"spanId"`
	ParentSpanID  string            `json:"parentSpanId,omitempty"`
	Service       string            `json:"service"`
	Operation     string            `json:"operation"`
	StartTime     time.Time         `json:"startTime"`
	Duration      time.Duration     `json:"duration"`
	Status        string            `json:"status"`
	Tags          map[string]string `json:"tags,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// IsRoot reports whether the span has no parent.
func (s Span) IsRoot() bool { return s.ParentSpanID == "" }

// IsError reports whether the span completed with error status.
func (s Span) IsError() bool { return s.Status == StatusError }

// EndTime returns the span's completion timestamp.
func (s Span) EndTime() time.Time { return s.StartTime.Add(s.Duration) }

// LogEntry is a flat log line, optionally linked to a trace/span and
// correlation identifier.
type LogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	Severity      string    `json:"severity"`
	Body          string    `json:"body"`
	TraceID       string    `json:"traceId,omitempty"`
	SpanID        string    `json:"spanId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// IsError reports whether the entry carries an error-class severity.
func (l LogEntry) IsError() bool {
	switch strings.ToUpper(l.Severity) {
	case "ERROR", "FATAL":
		return true
	}
	return false
}

// MetricPoint is a sparse metric sample; exemplar points carry a
// correlation identifier linking them back to a request.
type MetricPoint struct {
	Timestamp     time.Time         `json:"timestamp"`
	Name          string            `json:"name"`
	Value         float64           `json:"value"`
	Labels        map[string]string `json:"labels,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// Service returns the owning service recorded in the point's label set.
func (m MetricPoint) Service() string { return m.Labels["service"] }

// TimeRange bounds a window of signal data. The zero value is the sentinel
// for "no records".
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether the range is the empty-range sentinel.
func (r TimeRange) IsZero() bool { return r.Start.IsZero() && r.End.IsZero() }

// Duration returns the window length, zero for the sentinel.
func (r TimeRange) Duration() time.Duration {
	if r.IsZero() || r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}
