package engine

import (
	"sort"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// CriticalPath returns the root-to-leaf chain through the span forest that
// maximizes cumulative duration (wall-clock contribution, not hop count).
// Ties are broken by earliest start time. Empty input yields nil.
func CriticalPath(spans []models.Span) []models.Span {
	if len(spans) == 0 {
		return nil
	}

	byID := make(map[string]models.Span, len(spans))
	children := make(map[string][]models.Span)
	for _, span := range spans {
		byID[span.SpanID] = span
	}
	var roots []models.Span
	for _, span := range spans {
		if _, hasParent := byID[span.ParentSpanID]; span.ParentSpanID != "" && hasParent {
			children[span.ParentSpanID] = append(children[span.ParentSpanID], span)
		} else {
			// Orphans (parent absent from the fetched set) act as roots.
			roots = append(roots, span)
		}
	}
	for id := range children {
		sort.Slice(children[id], func(i, j int) bool {
			return children[id][i].StartTime.Before(children[id][j].StartTime)
		})
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].StartTime.Before(roots[j].StartTime) })

	var best []models.Span
	var bestDur time.Duration
	for _, root := range roots {
		chain, dur := longestChain(root, children, make(map[string]bool))
		if dur > bestDur || (dur == bestDur && better(chain, best)) {
			best, bestDur = chain, dur
		}
	}
	return best
}

// longestChain walks down from span; the visiting set guards against
// malformed parent references forming loops.
func longestChain(span models.Span, children map[string][]models.Span, visiting map[string]bool) ([]models.Span, time.Duration) {
	if visiting[span.SpanID] {
		return nil, 0
	}
	visiting[span.SpanID] = true
	defer delete(visiting, span.SpanID)

	var bestTail []models.Span
	var bestDur time.Duration
	for _, child := range children[span.SpanID] {
		tail, dur := longestChain(child, children, visiting)
		if dur > bestDur || (dur == bestDur && better(tail, bestTail)) {
			bestTail, bestDur = tail, dur
		}
	}
	chain := append([]models.Span{span}, bestTail...)
	return chain, span.Duration + bestDur
}

func better(a, b []models.Span) bool {
	if len(b) == 0 {
		return len(a) > 0
	}
	if len(a) == 0 {
		return false
	}
	return a[0].StartTime.Before(b[0].StartTime)
}

// ErrorOrigin declares the earliest error event across spans and logs as
// the likely origin. A span beats a log at an identical timestamp
// (structured signal over unstructured); among spans at the same instant
// the one closest to a root wins, since downstream errors are frequently
// symptoms of an upstream cause.
func ErrorOrigin(spans []models.Span, logs []models.LogEntry) (models.ErrorEvent, bool) {
	type candidate struct {
		event models.ErrorEvent
		hops  int
		order int
	}

	depth := spanDepths(spans)

	var candidates []candidate
	order := 0
	for _, span := range spans {
		if !span.IsError() {
			continue
		}
		candidates = append(candidates, candidate{
			event: models.ErrorEvent{
				Timestamp: span.StartTime,
				Service:   span.Service,
				Kind:      models.KindSpanStart,
				Summary:   span.Operation,
				Ref:       span.SpanID,
			},
			hops:  depth[span.SpanID],
			order: order,
		})
		order++
	}
	for _, entry := range logs {
		if !entry.IsError() {
			continue
		}
		candidates = append(candidates, candidate{
			event: models.ErrorEvent{
				Timestamp: entry.Timestamp,
				Service:   entry.Service,
				Kind:      models.KindLog,
				Summary:   truncateSummary(entry.Body),
				Ref:       entry.SpanID,
			},
			hops:  int(^uint(0) >> 1),
			order: order,
		})
		order++
	}
	if len(candidates) == 0 {
		return models.ErrorEvent{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.event.Timestamp.Equal(b.event.Timestamp) {
			return a.event.Timestamp.Before(b.event.Timestamp)
		}
		if a.event.Kind.Priority() != b.event.Kind.Priority() {
			return a.event.Kind.Priority() < b.event.Kind.Priority()
		}
		if a.hops != b.hops {
			return a.hops < b.hops
		}
		return a.order < b.order
	})
	return candidates[0].event, true
}

// DerivedErrors lists every error observation in deterministic order,
// starting from the origin.
func DerivedErrors(spans []models.Span, logs []models.LogEntry) []models.ErrorEvent {
	var events []models.ErrorEvent
	for _, span := range spans {
		if span.IsError() {
			events = append(events, models.ErrorEvent{
				Timestamp: span.StartTime,
				Service:   span.Service,
				Kind:      models.KindSpanStart,
				Summary:   span.Operation,
				Ref:       span.SpanID,
			})
		}
	}
	for _, entry := range logs {
		if entry.IsError() {
			events = append(events, models.ErrorEvent{
				Timestamp: entry.Timestamp,
				Service:   entry.Service,
				Kind:      models.KindLog,
				Summary:   truncateSummary(entry.Body),
				Ref:       entry.SpanID,
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Kind.Priority() < events[j].Kind.Priority()
	})
	return events
}

// spanDepths counts hops from each span to its root, treating orphans as
// roots and bounding the walk against reference loops.
func spanDepths(spans []models.Span) map[string]int {
	byID := make(map[string]models.Span, len(spans))
	for _, span := range spans {
		byID[span.SpanID] = span
	}
	depths := make(map[string]int, len(spans))
	for _, span := range spans {
		hops := 0
		current := span
		for current.ParentSpanID != "" && hops <= len(spans) {
			parent, ok := byID[current.ParentSpanID]
			if !ok {
				break
			}
			hops++
			current = parent
		}
		depths[span.SpanID] = hops
	}
	return depths
}
