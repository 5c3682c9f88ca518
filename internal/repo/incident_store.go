package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ollystack/correlation-engine/internal/models"
)

// embeddingDim is the fixed width of the feature-hash evidence embedding.
const embeddingDim = 128

// IncidentStore persists completed analyses in a Weaviate-compatible vector
// store so later investigations can retrieve similar past incidents. An
// unconfigured endpoint leaves the store inert: upserts are dropped and
// searches return no matches.
type IncidentStore struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewIncidentStore constructs an incident store client.
func NewIncidentStore(endpoint, apiKey string, timeout time.Duration) *IncidentStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IncidentStore{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EmbedEvidence folds evidence text into a deterministic feature-hash
// vector. Deterministic so repeated analyses of identical evidence map to
// the same point in vector space without an external embedding service.
func EmbedEvidence(evidence []models.Evidence) []float32 {
	vec := make([]float32, embeddingDim)
	for _, ev := range evidence {
		for _, token := range strings.Fields(strings.ToLower(ev.Description)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(token))
			idx := int(h.Sum32() % embeddingDim)
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// UpsertIncident stores an analysis result keyed by its analysis ID.
func (s *IncidentStore) UpsertIncident(ctx context.Context, result models.RCAResult, vector []float32) error {
	if s == nil || s.endpoint == "" {
		return nil
	}

	evidence := make([]string, 0, len(result.Evidence))
	for _, ev := range result.Evidence {
		evidence = append(evidence, ev.Description)
	}

	payload := map[string]interface{}{
		"class":  "Incident",
		"id":     result.AnalysisID,
		"vector": vector,
		"properties": map[string]interface{}{
			"correlationId":    result.CorrelationID,
			"rootCause":        result.RootCause,
			"confidence":       result.Confidence,
			"affectedServices": result.AffectedServices,
			"evidence":         evidence,
			"createdAt":        result.CreatedAt.UTC().Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/objects", bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("store incident failed: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// SearchSimilar returns the topK nearest incidents to the given vector,
// optionally restricted to incidents touching the given service.
func (s *IncidentStore) SearchSimilar(ctx context.Context, vector []float32, topK int, service string) ([]models.IncidentMatch, error) {
	if s == nil || s.endpoint == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, err
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
          Get {
            Incident(
              limit: %d
              nearVector: {vector: %s}
              %s
            ) {
              rootCause
              createdAt
              _additional { id certainty }
            }
          }
        }`, topK, vectorJSON, optionalServiceFilter(service)),
	}

	payload, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("similar incident search failed: %s", strings.TrimSpace(string(data)))
	}

	var response struct {
		Data struct {
			Get struct {
				Incident []struct {
					RootCause  string `json:"rootCause"`
					CreatedAt  string `json:"createdAt"`
					Additional struct {
						ID        string  `json:"id"`
						Certainty float64 `json:"certainty"`
					} `json:"_additional"`
				} `json:"Incident"`
			} `json:"Get"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	matches := make([]models.IncidentMatch, 0, len(response.Data.Get.Incident))
	for _, rec := range response.Data.Get.Incident {
		createdAt, _ := time.Parse(time.RFC3339, rec.CreatedAt)
		matches = append(matches, models.IncidentMatch{
			ID:        rec.Additional.ID,
			Score:     rec.Additional.Certainty,
			RootCause: rec.RootCause,
			CreatedAt: createdAt,
		})
	}
	return matches, nil
}

func optionalServiceFilter(service string) string {
	if service == "" {
		return ""
	}
	return fmt.Sprintf(`where: {path: ["affectedServices"], operator: ContainsAny, valueString: "%s"}`, service)
}

func (s *IncidentStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}
