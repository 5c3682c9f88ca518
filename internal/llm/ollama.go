package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

const defaultOllamaEndpoint = "http://localhost:11434"

type ollamaProvider struct {
	logger     *slog.Logger
	endpoint   string
	model      string
	httpClient *http.Client
}

func newOllamaProvider(cfg Config, logger *slog.Logger) *ollamaProvider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ollamaProvider{
		logger:     logger,
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *ollamaProvider) Explain(ctx context.Context, bundle EvidenceBundle) (Explanation, error) {
	payload := map[string]any{
		"model":  p.model,
		"prompt": systemPrompt + "\n\n" + renderBundle(bundle),
		"format": "json",
		"stream": false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Explanation{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Explanation{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Explanation{}, fmt.Errorf("%w: %v", models.ErrCapabilityUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Explanation{}, fmt.Errorf("%w: read response: %v", models.ErrCapabilityUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Explanation{}, fmt.Errorf("%w: status %d", models.ErrCapabilityUnavailable, resp.StatusCode)
	}

	var reply struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Explanation{}, fmt.Errorf("decode response: %w", err)
	}
	if reply.Response == "" {
		return Explanation{}, fmt.Errorf("%w: empty generation", models.ErrCapabilityUnavailable)
	}
	return parseExplanation(reply.Response)
}
