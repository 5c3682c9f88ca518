package engine

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ollystack/correlation-engine/internal/models"
)

var timelineBase = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestAssembleTimelineDeterministic(t *testing.T) {
	spans := []models.Span{
		{SpanID: "a", Service: "gateway", Operation: "GET /", StartTime: timelineBase, Duration: 200 * time.Millisecond},
		{SpanID: "b", Service: "orders", Operation: "create", StartTime: timelineBase.Add(20 * time.Millisecond), Duration: 100 * time.Millisecond},
	}
	logs := []models.LogEntry{
		{Timestamp: timelineBase.Add(45 * time.Millisecond), Service: "orders", Severity: "INFO", Body: "created"},
	}
	metrics := []models.MetricPoint{
		{Timestamp: timelineBase.Add(60 * time.Millisecond), Name: "latency_ms", Value: 12, Labels: map[string]string{"service": "orders"}},
	}

	first, firstRange := AssembleTimeline(spans, logs, metrics)
	second, secondRange := AssembleTimeline(spans, logs, metrics)

	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("timeline not deterministic:\n%s\n%s", a, b)
	}
	if !firstRange.Start.Equal(secondRange.Start) || !firstRange.End.Equal(secondRange.End) {
		t.Fatalf("ranges differ: %+v vs %+v", firstRange, secondRange)
	}
}

func TestAssembleTimelineTieBreaksByKindPriority(t *testing.T) {
	at := timelineBase
	spans := []models.Span{
		{SpanID: "s", Service: "orders", Operation: "create", StartTime: at, Duration: 10 * time.Millisecond},
	}
	logs := []models.LogEntry{
		{Timestamp: at, Service: "orders", Severity: "INFO", Body: "started"},
	}
	metrics := []models.MetricPoint{
		{Timestamp: at, Name: "qps", Value: 1},
	}

	timeline, _ := AssembleTimeline(spans, logs, metrics)
	if len(timeline) != 3 {
		t.Fatalf("expected 3 events, got %d", len(timeline))
	}
	wantKinds := []models.EventKind{models.KindSpanStart, models.KindLog, models.KindMetric}
	for i, kind := range wantKinds {
		if timeline[i].Kind != kind {
			t.Fatalf("position %d: expected %s, got %s", i, kind, timeline[i].Kind)
		}
	}
}

func TestAssembleTimelineEmptyYieldsSentinelRange(t *testing.T) {
	timeline, tr := AssembleTimeline(nil, nil, nil)
	if len(timeline) != 0 {
		t.Fatalf("expected empty timeline, got %d events", len(timeline))
	}
	if !tr.IsZero() {
		t.Fatalf("expected zero sentinel range, got %+v", tr)
	}
}

func TestAssembleTimelineRangeCoversSpanEnds(t *testing.T) {
	spans := []models.Span{
		{SpanID: "s", Service: "gateway", Operation: "GET /", StartTime: timelineBase, Duration: 500 * time.Millisecond},
	}
	_, tr := AssembleTimeline(spans, nil, nil)
	if !tr.End.Equal(timelineBase.Add(500 * time.Millisecond)) {
		t.Fatalf("range must cover span completion, got end %v", tr.End)
	}
}

func TestAssembleDetailedTimelineEmitsSpanEnds(t *testing.T) {
	spans := []models.Span{
		{SpanID: "s", Service: "gateway", Operation: "GET /", StartTime: timelineBase, Duration: 100 * time.Millisecond},
	}
	timeline, _ := AssembleDetailedTimeline(spans, nil, nil)
	if len(timeline) != 2 {
		t.Fatalf("expected start and end events, got %d", len(timeline))
	}
	if timeline[1].Kind != models.KindSpanEnd {
		t.Fatalf("expected span-end marker, got %s", timeline[1].Kind)
	}
	if !timeline[1].Timestamp.Equal(timelineBase.Add(100 * time.Millisecond)) {
		t.Fatalf("span-end at wrong instant: %v", timeline[1].Timestamp)
	}
}

func TestTimelineTruncatesLongLogBodies(t *testing.T) {
	long := strings.Repeat("x", 300)
	logs := []models.LogEntry{
		{Timestamp: timelineBase, Service: "orders", Severity: "INFO", Body: long},
	}
	timeline, _ := AssembleTimeline(nil, logs, nil)
	if len(timeline) != 1 {
		t.Fatalf("expected 1 event, got %d", len(timeline))
	}
	if len(timeline[0].Summary) != maxSummaryLen {
		t.Fatalf("expected %d-char summary, got %d", maxSummaryLen, len(timeline[0].Summary))
	}
	if !strings.HasSuffix(timeline[0].Summary, "...") {
		t.Fatalf("truncated summary missing ellipsis: %q", timeline[0].Summary)
	}
}

func TestTimelineTruncationKeepsValidUTF8(t *testing.T) {
	// Three-byte runes that straddle the cut point must not be split.
	long := strings.Repeat("日", 200)
	logs := []models.LogEntry{
		{Timestamp: timelineBase, Service: "orders", Severity: "INFO", Body: long},
	}
	timeline, _ := AssembleTimeline(nil, logs, nil)
	summary := timeline[0].Summary
	if !utf8.ValidString(summary) {
		t.Fatalf("truncated summary is not valid UTF-8: %q", summary)
	}
	if len(summary) > maxSummaryLen {
		t.Fatalf("summary over the limit: %d bytes", len(summary))
	}
	if !strings.HasSuffix(summary, "...") {
		t.Fatalf("truncated summary missing ellipsis: %q", summary)
	}
}
