package model

import "time"

// SignalKind classifies a market-behaviour anomaly
type SignalKind string

const (
	SignalPriceSpike        SignalKind = "price-spike"
	SignalVolumeSpike       SignalKind = "volume-spike"
	SignalCorrelatedTrading SignalKind = "correlated-trading"
	SignalToneContradiction SignalKind = "tone-contradiction" // Price trend runs against the announcement tone
	SignalHypeLanguage      SignalKind = "hype-language"      // Promotional phrasing typical of pump tips
	SignalFilingDeviation   SignalKind = "filing-deviation"   // Disclosed figure far from the entity's filing history
)

// Window is a closed market-data time range
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// AnomalySignal is produced independently of claims and joined by EntityID
type AnomalySignal struct {
	EntityID   string                 `json:"entity_id"`
	Window     Window                 `json:"window"`
	At         time.Time              `json:"at"` // Bar or event time that triggered the signal
	Kind       SignalKind             `json:"signal_kind"`
	Magnitude  float64                `json:"magnitude"`             // Standardized deviation (z-score) or count
	Confidence float64                `json:"confidence"`            // 0-1
	DocumentID string                 `json:"document_id,omitempty"` // Set for signals derived from a document
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

// Bar is one market-data observation
type Bar struct {
	Time   time.Time `json:"time"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketSeries is a price/volume series for one entity, ordered by time
type MarketSeries struct {
	EntityID string `json:"entity_id"`
	Bars     []Bar  `json:"bars"`
}

// Tone is the directional sentiment of an announcement
type Tone string

const (
	TonePositive Tone = "positive"
	ToneNegative Tone = "negative"
	ToneNeutral  Tone = "neutral"
)
