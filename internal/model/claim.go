package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Claim represents a quantitative assertion extracted from a disclosure
type Claim struct {
	ID              string          `json:"id"`
	DocumentID      string          `json:"document_id"`
	SubjectEntityID string          `json:"subject_entity_id"`
	Metric          Metric          `json:"metric"`
	Value           decimal.Decimal `json:"value"`            // Absolute value in Unit (₹100Cr -> 1000000000 INR)
	Unit            string          `json:"unit,omitempty"`   // Currency code, "%" or "" for counts/ratios
	AsOf            *time.Time      `json:"as_of,omitempty"`  // Period end the value refers to
	Period          string          `json:"period,omitempty"` // Period as written (e.g. "FY2024")
	Span            Span            `json:"source_span"`
	Sentence        Span            `json:"sentence_span"` // Sentence the claim was read from
	Text            string          `json:"text"`          // Matched source text
	Confidence      float64         `json:"confidence"`    // Inherited from the source span
	LowConfidence   bool            `json:"low_confidence"`
	Rule            string          `json:"rule,omitempty"` // Which extraction rule matched (e.g. "metric:revenue")
}

// Metric names a disclosed financial quantity
type Metric string

const (
	MetricRevenue     Metric = "revenue"
	MetricTotalIncome Metric = "total_income"
	MetricNetProfit   Metric = "net_profit"
	MetricEBITDA      Metric = "ebitda"
	MetricEPS         Metric = "eps"
	MetricOrderValue  Metric = "order_value"
	MetricDividend    Metric = "dividend"
	MetricDebt        Metric = "debt"
	MetricStake       Metric = "stake"
)
