package models

import "time"

// Evidence is one supporting observation for a root-cause conclusion,
// tagged with the strategy stage that produced it.
type Evidence struct {
	Stage       string `json:"stage"`
	Description string `json:"description"`
}

// IncidentMatch references a similar past incident retrieved from the
// incident store.
type IncidentMatch struct {
	ID        string    `json:"id"`
	Score     float64   `json:"score"`
	RootCause string    `json:"rootCause"`
	CreatedAt time.Time `json:"createdAt"`
}

// RCAResult is the combined output of the root-cause strategy chain.
type RCAResult struct {
	AnalysisID       string          `json:"analysisId"`
	CorrelationID    string          `json:"correlationId"`
	RootCause        string          `json:"rootCause"`
	Confidence       float64         `json:"confidence"`
	Evidence         []Evidence      `json:"evidence"`
	AffectedServices []string        `json:"affectedServices"`
	Remediations     []string        `json:"remediations,omitempty"`
	SimilarIncidents []IncidentMatch `json:"similarIncidents,omitempty"`
	Summary          string          `json:"summary,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}
