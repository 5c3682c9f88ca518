package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ollystack/correlation-engine/internal/engine"
	"github.com/ollystack/correlation-engine/internal/models"
	"github.com/ollystack/correlation-engine/internal/utils"
)

// ContextProvider serves correlated context queries.
type ContextProvider interface {
	GetFullContext(ctx context.Context, id string, tr models.TimeRange) (*models.CorrelatedContext, error)
	GetTimeline(ctx context.Context, id string, tr models.TimeRange, detailed bool) ([]models.TimelineEvent, models.TimeRange, error)
	GetImpact(ctx context.Context, id string, tr models.TimeRange) (*engine.Impact, error)
}

// Analyzer runs the root-cause strategy chain over a context.
type Analyzer interface {
	Analyze(ctx context.Context, cc *models.CorrelatedContext) (*models.RCAResult, error)
}

// AnomalyDetector scores observed values against learned baselines.
type AnomalyDetector interface {
	Detect(ctx context.Context, service, metric string, value float64, at time.Time) models.AnomalyResult
	DetectWindow(ctx context.Context, service, metric string, window time.Duration) (models.AnomalyResult, error)
}

// Handler exposes the query surface over HTTP.
type Handler struct {
	logger   *slog.Logger
	provider ContextProvider
	analyzer Analyzer
	detector AnomalyDetector
	latency  *utils.LatencyTracker
}

// NewHandler constructs the HTTP handler set. analyzer and detector may be
// nil; the corresponding endpoints then answer 503.
func NewHandler(logger *slog.Logger, provider ContextProvider, analyzer Analyzer, detector AnomalyDetector) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		provider: provider,
		analyzer: analyzer,
		detector: detector,
		latency:  utils.NewLatencyTracker(1024),
	}
}

// Routes builds the chi router for the query surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/correlation/{correlationID}", func(r chi.Router) {
			r.Get("/", h.handleContext)
			r.Get("/timeline", h.handleTimeline)
			r.Get("/impact", h.handleImpact)
		})
		r.Route("/ai", func(r chi.Router) {
			r.Post("/analyze", h.handleAnalyze)
			r.Post("/anomalies/detect", h.handleDetect)
		})
	})
	return r
}

func (h *Handler) handleContext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.latency.Observe(time.Since(start)) }()

	id := chi.URLParam(r, "correlationID")
	tr, err := rangeFromQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	cc, err := h.provider.GetFullContext(r.Context(), id, tr)
	if err != nil {
		h.writeEngineError(w, r, "api.handleContext", err)
		return
	}

	if queryFlag(r, "details") {
		// Derived from the context already in hand so the response stays
		// self-consistent and the sources are not fetched twice.
		timeline, detailedRange := engine.AssembleDetailedTimeline(cc.Spans, cc.Logs, cc.Metrics)
		detailed := *cc
		detailed.Timeline = timeline
		detailed.TimeRange = detailedRange
		h.writeJSON(w, http.StatusOK, &detailed)
		return
	}
	h.writeJSON(w, http.StatusOK, cc)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.latency.Observe(time.Since(start)) }()

	id := chi.URLParam(r, "correlationID")
	tr, err := rangeFromQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	timeline, timelineRange, err := h.provider.GetTimeline(r.Context(), id, tr, queryFlag(r, "details"))
	if err != nil {
		h.writeEngineError(w, r, "api.handleTimeline", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"correlationId": id,
		"timeRange":     timelineRange,
		"events":        timeline,
	})
}

func (h *Handler) handleImpact(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.latency.Observe(time.Since(start)) }()

	id := chi.URLParam(r, "correlationID")
	tr, err := rangeFromQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	impact, err := h.provider.GetImpact(r.Context(), id, tr)
	if err != nil {
		h.writeEngineError(w, r, "api.handleImpact", err)
		return
	}
	h.writeJSON(w, http.StatusOK, impact)
}

type analyzeRequest struct {
	CorrelationID string `json:"correlation_id"`
	AnalysisType  string `json:"analysis_type"`
	Start         string `json:"start,omitempty"`
	End           string `json:"end,omitempty"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.latency.Observe(time.Since(start)) }()

	if h.analyzer == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("analysis is not configured"))
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.AnalysisType != "" && !strings.EqualFold(req.AnalysisType, "rca") {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("unsupported analysis_type %q", req.AnalysisType))
		return
	}
	tr, err := parseRange(req.Start, req.End)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	cc, err := h.provider.GetFullContext(r.Context(), req.CorrelationID, tr)
	if err != nil {
		h.writeEngineError(w, r, "api.handleAnalyze", err)
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), cc)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type detectRequest struct {
	Service   string   `json:"service"`
	Metric    string   `json:"metric"`
	Window    string   `json:"window,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.latency.Observe(time.Since(start)) }()

	if h.detector == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("anomaly detection is not configured"))
		return
	}

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Service == "" || req.Metric == "" {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("service and metric are required"))
		return
	}

	// An explicit value scores directly; otherwise the latest sample in
	// the window is read from the store.
	if req.Value != nil {
		at := time.Now().UTC()
		if req.Timestamp != "" {
			parsed, err := utils.ParseRFC3339(req.Timestamp)
			if err != nil {
				h.writeError(w, r, http.StatusBadRequest, err)
				return
			}
			at = parsed
		}
		result := h.detector.Detect(r.Context(), req.Service, req.Metric, *req.Value, at)
		h.writeJSON(w, http.StatusOK, result)
		return
	}

	window, err := utils.ParseWindow(req.Window, 15*time.Minute)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	result, err := h.detector.DetectWindow(r.Context(), req.Service, req.Metric, window)
	if err != nil {
		h.writeEngineError(w, r, "api.handleDetect", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"latency": h.latency.Snapshot(),
	})
}

// writeEngineError maps engine taxonomy errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCorrelationID):
		h.writeError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, models.ErrAllSourcesFailed):
		h.writeError(w, r, http.StatusBadGateway, err)
	case errors.Is(err, models.ErrCapabilityUnavailable):
		h.writeError(w, r, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusGatewayTimeout, err)
	default:
		h.writeError(w, r, http.StatusInternalServerError, utils.NewAppError(op, "request failed", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func queryFlag(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return strings.EqualFold(v, "true") || v == "1"
}

func rangeFromQuery(r *http.Request) (models.TimeRange, error) {
	return parseRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
}

func parseRange(start, end string) (models.TimeRange, error) {
	var tr models.TimeRange
	if start != "" {
		t, err := utils.ParseRFC3339(start)
		if err != nil {
			return models.TimeRange{}, fmt.Errorf("start: %w", err)
		}
		tr.Start = t
	}
	if end != "" {
		t, err := utils.ParseRFC3339(end)
		if err != nil {
			return models.TimeRange{}, fmt.Errorf("end: %w", err)
		}
		tr.End = t
	}
	if !tr.Start.IsZero() && !tr.End.IsZero() && tr.End.Before(tr.Start) {
		return models.TimeRange{}, fmt.Errorf("end precedes start")
	}
	return tr, nil
}
