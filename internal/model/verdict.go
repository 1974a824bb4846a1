package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerdictStatus is the outcome of cross-checking one claim
type VerdictStatus string

const (
	StatusConfirmed    VerdictStatus = "confirmed"
	StatusContradicted VerdictStatus = "contradicted"
	StatusUnverifiable VerdictStatus = "unverifiable"
)

// SourceTier ranks reference sources by precedence (lower is stronger)
type SourceTier int

const (
	TierUnknown   SourceTier = 0
	TierRegulator SourceTier = 1 // Primary regulator filing
	TierExchange  SourceTier = 2 // Exchange record
	TierHistory   SourceTier = 3 // Prior verified claim history
)

func (t SourceTier) String() string {
	switch t {
	case TierRegulator:
		return "regulator_filing"
	case TierExchange:
		return "exchange_record"
	case TierHistory:
		return "claim_history"
	default:
		return "unknown"
	}
}

// ParseSourceTier converts a tier name into a SourceTier
func ParseSourceTier(s string) SourceTier {
	switch s {
	case "regulator_filing", "regulator", "primary", "1":
		return TierRegulator
	case "exchange_record", "exchange", "secondary", "2":
		return TierExchange
	case "claim_history", "history", "tertiary", "3":
		return TierHistory
	default:
		return TierUnknown
	}
}

// ReferenceRecord is an independently sourced ground-truth value
type ReferenceRecord struct {
	ID       string          `json:"id" yaml:"id"`
	EntityID string          `json:"entity_id" yaml:"entity_id"`
	Metric   Metric          `json:"metric" yaml:"metric"`
	Value    decimal.Decimal `json:"value" yaml:"-"`
	Unit     string          `json:"unit,omitempty" yaml:"unit,omitempty"`
	AsOf     time.Time       `json:"as_of" yaml:"as_of"`
	FiledAt  time.Time       `json:"filed_at" yaml:"filed_at"`
	Tier     SourceTier      `json:"tier" yaml:"-"`
	Source   string          `json:"source,omitempty" yaml:"source,omitempty"`
	URL      string          `json:"url,omitempty" yaml:"url,omitempty"`
}

// Verdict is the append-only result of cross-checking one Claim
type Verdict struct {
	ID               string           `json:"id"`
	ClaimID          string           `json:"claim_id"`
	EntityID         string           `json:"entity_id"`
	Metric           Metric           `json:"metric"`
	Status           VerdictStatus    `json:"status"`
	MatchedReference *ReferenceRecord `json:"matched_reference,omitempty"`
	Rationale        string           `json:"rationale"`
	RelativeDiff     *decimal.Decimal `json:"relative_diff,omitempty"`
	Confidence       float64          `json:"confidence"` // Claim confidence after identifier discounts
	LowConfidence    bool             `json:"low_confidence"`
	CreatedAt        time.Time        `json:"created_at"`
}
