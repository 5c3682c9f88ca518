package engine

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/ollystack/correlation-engine/internal/models"
)

const maxSummaryLen = 100

// AssembleTimeline merges the three raw collections into one ascending
// sequence: by timestamp, ties broken by kind priority (span-start < log <
// metric < span-end) then by original source order. Pure and idempotent;
// identical inputs always reproduce the identical sequence. Empty inputs
// yield an empty timeline and the zero-value sentinel range.
func AssembleTimeline(spans []models.Span, logs []models.LogEntry, metrics []models.MetricPoint) ([]models.TimelineEvent, models.TimeRange) {
	return assemble(spans, logs, metrics, false)
}

// AssembleDetailedTimeline additionally emits span-end markers so readers
// can see request completion points interleaved with logs and metrics.
func AssembleDetailedTimeline(spans []models.Span, logs []models.LogEntry, metrics []models.MetricPoint) ([]models.TimelineEvent, models.TimeRange) {
	return assemble(spans, logs, metrics, true)
}

type orderedEvent struct {
	event models.TimelineEvent
	order int
}

func assemble(spans []models.Span, logs []models.LogEntry, metrics []models.MetricPoint, spanEnds bool) ([]models.TimelineEvent, models.TimeRange) {
	events := make([]orderedEvent, 0, len(spans)*2+len(logs)+len(metrics))
	order := 0

	for _, span := range spans {
		events = append(events, orderedEvent{
			event: models.TimelineEvent{
				Timestamp: span.StartTime,
				Kind:      models.KindSpanStart,
				Service:   span.Service,
				Summary:   span.Operation,
				Ref:       span.SpanID,
			},
			order: order,
		})
		order++
		if spanEnds {
			events = append(events, orderedEvent{
				event: models.TimelineEvent{
					Timestamp: span.EndTime(),
					Kind:      models.KindSpanEnd,
					Service:   span.Service,
					Summary:   span.Operation,
					Ref:       span.SpanID,
				},
				order: order,
			})
			order++
		}
	}
	for _, entry := range logs {
		events = append(events, orderedEvent{
			event: models.TimelineEvent{
				Timestamp: entry.Timestamp,
				Kind:      models.KindLog,
				Service:   entry.Service,
				Summary:   truncateSummary(entry.Body),
				Ref:       entry.SpanID,
			},
			order: order,
		})
		order++
	}
	for _, point := range metrics {
		events = append(events, orderedEvent{
			event: models.TimelineEvent{
				Timestamp: point.Timestamp,
				Kind:      models.KindMetric,
				Service:   point.Service(),
				Summary:   fmt.Sprintf("%s=%g", point.Name, point.Value),
				Ref:       point.Name,
			},
			order: order,
		})
		order++
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.event.Timestamp.Equal(b.event.Timestamp) {
			return a.event.Timestamp.Before(b.event.Timestamp)
		}
		if a.event.Kind.Priority() != b.event.Kind.Priority() {
			return a.event.Kind.Priority() < b.event.Kind.Priority()
		}
		return a.order < b.order
	})

	timeline := make([]models.TimelineEvent, 0, len(events))
	for _, e := range events {
		timeline = append(timeline, e.event)
	}

	return timeline, computeRange(spans, logs, metrics)
}

// computeRange derives the overall window from the raw records so it covers
// span completion times even when the compact timeline omits end markers.
func computeRange(spans []models.Span, logs []models.LogEntry, metrics []models.MetricPoint) models.TimeRange {
	var tr models.TimeRange
	first := true

	for _, span := range spans {
		tr = extendRange(tr, &first, span.StartTime)
		tr = extendRange(tr, &first, span.EndTime())
	}
	for _, entry := range logs {
		tr = extendRange(tr, &first, entry.Timestamp)
	}
	for _, point := range metrics {
		tr = extendRange(tr, &first, point.Timestamp)
	}
	return tr
}

func extendRange(tr models.TimeRange, first *bool, t time.Time) models.TimeRange {
	if *first {
		*first = false
		return models.TimeRange{Start: t, End: t}
	}
	if t.Before(tr.Start) {
		tr.Start = t
	}
	if t.After(tr.End) {
		tr.End = t
	}
	return tr
}

func truncateSummary(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	cut := maxSummaryLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
