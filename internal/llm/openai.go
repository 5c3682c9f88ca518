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

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

type openAIProvider struct {
	logger     *slog.Logger
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

func newOpenAIProvider(cfg Config, logger *slog.Logger) *openAIProvider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &openAIProvider{
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *openAIProvider) Explain(ctx context.Context, bundle EvidenceBundle) (Explanation, error) {
	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": renderBundle(bundle)},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0.2,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Explanation{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Explanation{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

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

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		return Explanation{}, fmt.Errorf("decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Explanation{}, fmt.Errorf("%w: empty completion", models.ErrCapabilityUnavailable)
	}
	return parseExplanation(completion.Choices[0].Message.Content)
}

const systemPrompt = "You are a site-reliability analyst. Given root-cause evidence for one " +
	"distributed request, reply with a JSON object holding summary (string), " +
	"remediations (array of strings), and confidence (number in [0,1]). " +
	"Base your answer only on the given evidence."

func renderBundle(bundle EvidenceBundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "correlation id: %s\n", bundle.CorrelationID)
	fmt.Fprintf(&sb, "suspected root cause: %s\n", bundle.RootCause)
	fmt.Fprintf(&sb, "services involved: %s\n", strings.Join(bundle.Services, ", "))
	sb.WriteString("evidence:\n")
	for _, ev := range bundle.Evidence {
		fmt.Fprintf(&sb, "- [%s] %s\n", ev.Stage, ev.Description)
	}
	return sb.String()
}

// parseExplanation decodes the model's JSON reply, tolerating surrounding
// prose by extracting the outermost object.
func parseExplanation(content string) (Explanation, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Explanation{}, fmt.Errorf("no JSON object in explanation reply")
	}
	var expl Explanation
	if err := json.Unmarshal([]byte(content[start:end+1]), &expl); err != nil {
		return Explanation{}, fmt.Errorf("decode explanation: %w", err)
	}
	if expl.Confidence < 0 {
		expl.Confidence = 0
	}
	if expl.Confidence > 1 {
		expl.Confidence = 1
	}
	return expl, nil
}
