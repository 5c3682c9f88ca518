package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// EvidenceBundle is the combined evidence handed to the explanation
// capability: everything the cheaper strategies concluded, plus enough
// framing for a readable narrative.
type EvidenceBundle struct {
	CorrelationID string            `json:"correlation_id"`
	RootCause     string            `json:"root_cause"`
	Services      []string          `json:"services"`
	Evidence      []models.Evidence `json:"evidence"`
}

// Explanation is the capability's response.
type Explanation struct {
	Summary      string   `json:"summary"`
	Remediations []string `json:"remediations"`
	Confidence   float64  `json:"confidence"`
}

// Provider produces natural-language explanations. Implementations must
// honor ctx cancellation and wrap outages in ErrCapabilityUnavailable so
// callers can skip the stage.
type Provider interface {
	Explain(ctx context.Context, bundle EvidenceBundle) (Explanation, error)
}

// Config selects and parameterizes a provider backend.
type Config struct {
	Backend  string        `yaml:"backend"`
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NewProvider constructs the configured backend. An empty backend means
// the capability is absent; callers get a nil Provider and must skip.
func NewProvider(cfg Config, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "":
		return nil, nil
	case "openai":
		return newOpenAIProvider(cfg, logger), nil
	case "ollama":
		return newOllamaProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}
