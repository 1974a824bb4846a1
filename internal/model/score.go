package model

import "time"

// CredibilityScore is the fused, auditable output for one entity.
// Never edited in place: a recomputation is stored as a new Version.
type CredibilityScore struct {
	ID              string          `json:"id"`
	EntityID        string          `json:"entity_id"`
	Version         int             `json:"version"`
	Score           int             `json:"score"`      // 0-100
	Coverage        float64         `json:"coverage"`   // decided / total claims
	Confidence      string          `json:"confidence"` // "low", "medium", "high"
	PartialEvidence bool            `json:"partial_evidence"`
	Verdicts        []Verdict       `json:"contributing_verdicts"`
	Signals         []AnomalySignal `json:"contributing_signals"`
	Identifiers     []Identifier    `json:"identifiers,omitempty"`
	Evidence        []EvidenceItem  `json:"evidence"` // Ranked by |impact|
	Breakdown       Breakdown       `json:"breakdown"`
	ComputedAt      time.Time       `json:"computed_at"`
	Hash            string          `json:"hash,omitempty"` // sha256 over the canonical record
}

// Breakdown exposes the intermediate terms of the score
type Breakdown struct {
	Base             float64                `json:"base"`
	ConfirmedPoints  float64                `json:"confirmed_points"`
	ContradictPoints float64                `json:"contradicted_points"`
	IdentifierPoints float64                `json:"identifier_points"`
	DocumentScore    float64                `json:"document_score"`
	AnomalyRisk      float64                `json:"anomaly_risk"`
	AnomalyDiscount  float64                `json:"anomaly_discount"`
	Counts           map[VerdictStatus]int  `json:"counts"`
	StaleSignals     int                    `json:"stale_signals"`
	Formula          string                 `json:"formula"`
	Notes            []string               `json:"notes,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// EvidenceItem is one supporting or contradicting entry in the audit trail
type EvidenceItem struct {
	Ref         string         `json:"ref"` // Verdict id, identifier value or signal key
	Kind        EvidenceKind   `json:"kind"`
	Severity    SignalSeverity `json:"severity"`
	Impact      float64        `json:"impact"` // Signed score points (negative = contradicting)
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
}

// EvidenceKind classifies an evidence item
type EvidenceKind string

const (
	EvidenceVerdict    EvidenceKind = "verdict"
	EvidenceIdentifier EvidenceKind = "identifier"
	EvidenceSignal     EvidenceKind = "signal"
)

// SignalSeverity indicates the importance of an evidence item
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// Explanation is an optional LLM-written narrative of a score. It never
// affects the score and may only cite reference URLs from the evidence.
type Explanation struct {
	Enabled        bool     `json:"enabled"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	StrictEvidence bool     `json:"strict_evidence"`
	SummaryMD      string   `json:"summary_md,omitempty"`
	CitedURLs      []string `json:"cited_urls,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}
