package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type wireSpan struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Service      string            `json:"service"`
	Operation    string            `json:"operation"`
	StartTime    time.Time         `json:"start_time"`
	DurationMs   float64           `json:"duration_ms"`
	Status       string            `json:"status"`
	Tags         map[string]string `json:"tags,omitempty"`
}

type wireLog struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Severity  string    `json:"severity"`
	Body      string    `json:"body"`
	TraceID   string    `json:"trace_id,omitempty"`
	SpanID    string    `json:"span_id,omitempty"`
}

type wirePoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

func main() {
	base := time.Now().Add(-5 * time.Minute).Truncate(time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/query/spans", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"spans": []wireSpan{
				{
					TraceID:    "trace-demo",
					SpanID:     "span-gw",
					Service:    "gateway",
					Operation:  "HTTP POST /checkout",
					StartTime:  base,
					DurationMs: 200,
					Status:     "ok",
				},
				{
					TraceID:      "trace-demo",
					SpanID:       "span-order",
					ParentSpanID: "span-gw",
					Service:      "order-service",
					Operation:    "create order",
					StartTime:    base.Add(20 * time.Millisecond),
					DurationMs:   160,
					Status:       "ok",
				},
				{
					TraceID:      "trace-demo",
					SpanID:       "span-pay",
					ParentSpanID: "span-order",
					Service:      "payment-service",
					Operation:    "charge card",
					StartTime:    base.Add(40 * time.Millisecond),
					DurationMs:   130,
					Status:       "error",
					Tags:         map[string]string{"error.kind": "timeout"},
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/query/logs", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"entries": []wireLog{
				{
					Timestamp: base.Add(45 * time.Millisecond),
					Service:   "payment-service",
					Severity:  "ERROR",
					Body:      "timeout contacting card processor",
					TraceID:   "trace-demo",
					SpanID:    "span-pay",
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/query/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"points": []wirePoint{}})
	})

	mux.HandleFunc("/api/v1/query/series", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		// Eight days of hourly latency samples so baselines can learn.
		var points []wirePoint
		for h := 0; h < 8*24; h++ {
			points = append(points, wirePoint{
				Timestamp: time.Now().Add(-time.Duration(h) * time.Hour),
				Name:      "latency_p95_ms",
				Value:     120 + float64(h%24)*2,
				Labels:    map[string]string{"service": "payment-service"},
			})
		}
		writeJSON(w, map[string]any{"points": points})
	})

	logger := log.New(log.Writer(), "store-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9000",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9000")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
