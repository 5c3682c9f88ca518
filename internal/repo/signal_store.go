package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// SignalStoreClient wraps the columnar store's read APIs for the three
// signal tables. It owns no business logic; it fetches, classifies
// failures, and never fabricates or silently returns stale data.
type SignalStoreClient struct {
	baseURL     string
	spansPath   string
	logsPath    string
	metricsPath string
	seriesPath  string
	httpClient  *http.Client
}

// NewSignalStoreClient constructs a client targeting the configured store.
// seriesPath serves full metric series reads for baseline learning; the
// other paths serve correlation-scoped queries.
func NewSignalStoreClient(baseURL, spansPath, logsPath, metricsPath, seriesPath string, timeout time.Duration) *SignalStoreClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SignalStoreClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		spansPath:   spansPath,
		logsPath:    logsPath,
		metricsPath: metricsPath,
		seriesPath:  seriesPath,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type signalQuery struct {
	CorrelationID string `json:"correlation_id"`
	Start         string `json:"start,omitempty"`
	End           string `json:"end,omitempty"`
}

// FetchSpans queries the span table for one correlation identifier.
func (c *SignalStoreClient) FetchSpans(ctx context.Context, correlationID string, tr models.TimeRange) ([]models.Span, error) {
	var response struct {
		Spans []struct {
			TraceID      string            `json:"trace_id"`
			SpanID       string            `json:"span_id"`
			ParentSpanID string            `json:"parent_span_id"`
			Service      string            `json:"service"`
			Operation    string            `json:"operation"`
			StartTime    time.Time         `json:"start_time"`
			DurationMs   float64           `json:"duration_ms"`
			Status       string            `json:"status"`
			Tags         map[string]string `json:"tags"`
		} `json:"spans"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.spansPath), buildQuery(correlationID, tr), &response); err != nil {
		return nil, classifySourceErr(models.SourceSpans, err)
	}

	spans := make([]models.Span, 0, len(response.Spans))
	for _, s := range response.Spans {
		spans = append(spans, models.Span{
			TraceID:       s.TraceID,
			SpanID:        s.SpanID,
			ParentSpanID:  s.ParentSpanID,
			Service:       s.Service,
			Operation:     s.Operation,
			StartTime:     s.StartTime,
			Duration:      time.Duration(s.DurationMs * float64(time.Millisecond)),
			Status:        normalizeStatus(s.Status),
			Tags:          s.Tags,
			CorrelationID: correlationID,
		})
	}
	return spans, nil
}

// FetchLogs queries the log table for one correlation identifier.
func (c *SignalStoreClient) FetchLogs(ctx context.Context, correlationID string, tr models.TimeRange) ([]models.LogEntry, error) {
	var response struct {
		Entries []struct {
			Timestamp time.Time `json:"timestamp"`
			Service   string    `json:"service"`
			Severity  string    `json:"severity"`
			Body      string    `json:"body"`
			TraceID   string    `json:"trace_id"`
			SpanID    string    `json:"span_id"`
		} `json:"entries"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.logsPath), buildQuery(correlationID, tr), &response); err != nil {
		return nil, classifySourceErr(models.SourceLogs, err)
	}

	entries := make([]models.LogEntry, 0, len(response.Entries))
	for _, e := range response.Entries {
		entries = append(entries, models.LogEntry{
			Timestamp:     e.Timestamp,
			Service:       e.Service,
			Severity:      e.Severity,
			Body:          e.Body,
			TraceID:       e.TraceID,
			SpanID:        e.SpanID,
			CorrelationID: correlationID,
		})
	}
	return entries, nil
}

// FetchMetricPoints queries the metric table for exemplar points carrying
// the correlation identifier. Sparse by nature; an empty result is normal.
func (c *SignalStoreClient) FetchMetricPoints(ctx context.Context, correlationID string, tr models.TimeRange) ([]models.MetricPoint, error) {
	var response struct {
		Points []struct {
			Timestamp time.Time         `json:"timestamp"`
			Name      string            `json:"name"`
			Value     float64           `json:"value"`
			Labels    map[string]string `json:"labels"`
		} `json:"points"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.metricsPath), buildQuery(correlationID, tr), &response); err != nil {
		return nil, classifySourceErr(models.SourceMetrics, err)
	}

	points := make([]models.MetricPoint, 0, len(response.Points))
	for _, p := range response.Points {
		points = append(points, models.MetricPoint{
			Timestamp:     p.Timestamp,
			Name:          p.Name,
			Value:         p.Value,
			Labels:        p.Labels,
			CorrelationID: correlationID,
		})
	}
	return points, nil
}

// ReadHistory queries the metric table for the full series of one
// (service, metric) pair over tr, ignoring correlation identifiers. The
// baseline learner and window-based detection read through this path.
func (c *SignalStoreClient) ReadHistory(ctx context.Context, service, metric string, tr models.TimeRange) ([]models.MetricPoint, error) {
	query := struct {
		Service string `json:"service"`
		Metric  string `json:"metric"`
		Start   string `json:"start,omitempty"`
		End     string `json:"end,omitempty"`
	}{Service: service, Metric: metric}
	if !tr.Start.IsZero() {
		query.Start = tr.Start.UTC().Format(time.RFC3339Nano)
	}
	if !tr.End.IsZero() {
		query.End = tr.End.UTC().Format(time.RFC3339Nano)
	}

	var response struct {
		Points []struct {
			Timestamp time.Time         `json:"timestamp"`
			Name      string            `json:"name"`
			Value     float64           `json:"value"`
			Labels    map[string]string `json:"labels"`
		} `json:"points"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.seriesPath), query, &response); err != nil {
		return nil, classifySourceErr(models.SourceMetrics, err)
	}

	points := make([]models.MetricPoint, 0, len(response.Points))
	for _, p := range response.Points {
		points = append(points, models.MetricPoint{
			Timestamp: p.Timestamp,
			Name:      p.Name,
			Value:     p.Value,
			Labels:    p.Labels,
		})
	}
	return points, nil
}

func buildQuery(correlationID string, tr models.TimeRange) signalQuery {
	q := signalQuery{CorrelationID: correlationID}
	if !tr.Start.IsZero() {
		q.Start = tr.Start.UTC().Format(time.RFC3339Nano)
	}
	if !tr.End.IsZero() {
		q.End = tr.End.UTC().Format(time.RFC3339Nano)
	}
	return q
}

func normalizeStatus(status string) string {
	if strings.EqualFold(status, models.StatusError) {
		return models.StatusError
	}
	return models.StatusOK
}

// classifySourceErr maps transport failures onto the engine's taxonomy:
// deadline expiry is a timeout, everything else is unavailability.
func classifySourceErr(source models.Source, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", source, models.ErrSourceTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", source, models.ErrSourceTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", source, models.ErrSourceUnavailable, err)
}

func (c *SignalStoreClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *SignalStoreClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("signal store base URL not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signal store returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
