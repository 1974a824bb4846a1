// Package score fuses cross-check verdicts, identifier outcomes and anomaly
// signals into a CredibilityScore with a ranked evidence trail.
package score

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/credible/internal/model"
)

const formula = "clamp(base + confirmed - contradicted - identifiers, floor, 100) * (1 - min(risk, 1) * max_discount)"

// Input is the evidence set for one entity
type Input struct {
	EntityID    string
	Verdicts    []model.Verdict
	Signals     []model.AnomalySignal
	Identifiers []model.Identifier
	MarketAsOf  time.Time // When market signals were last scored; zero if never
}

// Aggregator calculates credibility scores
type Aggregator struct {
	cfg model.ScoringConfig
	now func() time.Time
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithClock sets the clock used for ComputedAt and signal staleness
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator with the given weights
func NewAggregator(cfg model.ScoringConfig, opts ...Option) *Aggregator {
	a := &Aggregator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate computes the score. The result depends only on the input and the
// clock: input order does not matter.
func (a *Aggregator) Aggregate(in Input) model.CredibilityScore {
	now := a.now().UTC()
	verdicts := sortedVerdicts(in.Verdicts)
	identifiers := dedupeIdentifiers(in.Identifiers)

	b := model.Breakdown{
		Base:    a.cfg.Base,
		Counts:  map[model.VerdictStatus]int{},
		Formula: formula,
		Data:    map[string]interface{}{},
	}
	var evidence []model.EvidenceItem

	// 1. Verdicts
	for _, v := range verdicts {
		b.Counts[v.Status]++
		item := a.verdictEvidence(v)
		switch v.Status {
		case model.StatusConfirmed:
			b.ConfirmedPoints += item.Impact
		case model.StatusContradicted:
			b.ContradictPoints -= item.Impact
		}
		evidence = append(evidence, item)
	}

	// 2. Identifiers
	for _, id := range identifiers {
		item := a.identifierEvidence(id)
		b.IdentifierPoints -= item.Impact
		evidence = append(evidence, item)
	}

	raw := b.Base + b.ConfirmedPoints - b.ContradictPoints - b.IdentifierPoints
	b.DocumentScore = clamp(raw, a.cfg.DocumentFloor, 100)
	if raw < a.cfg.DocumentFloor {
		b.Notes = append(b.Notes, fmt.Sprintf("document evidence floored at %.0f", a.cfg.DocumentFloor))
	}

	// 3. Anomaly signals
	signals, stale := a.freshSignals(in.Signals, now)
	b.StaleSignals = stale
	survival := 1.0
	terms := make([]float64, 0, len(signals))
	for _, sig := range signals {
		r := a.riskTerm(sig)
		terms = append(terms, r)
		survival *= 1 - r
		evidence = append(evidence, a.signalEvidence(sig, r, b.DocumentScore))
	}
	b.AnomalyRisk = 1 - survival
	b.AnomalyDiscount = math.Min(b.AnomalyRisk, 1) * a.cfg.MaxAnomalyDiscount

	final := b.DocumentScore * (1 - b.AnomalyDiscount)

	decided := b.Counts[model.StatusConfirmed] + b.Counts[model.StatusContradicted]
	coverage := 0.0
	if len(verdicts) > 0 {
		coverage = float64(decided) / float64(len(verdicts))
	}

	partial := false
	if len(verdicts) == 0 {
		partial = true
		b.Notes = append(b.Notes, "no verdicts")
	}
	switch {
	case in.MarketAsOf.IsZero():
		partial = true
		b.Notes = append(b.Notes, "market data not scored")
	case now.Sub(in.MarketAsOf) > a.cfg.MaxMarketLag:
		partial = true
		b.Notes = append(b.Notes, fmt.Sprintf("market data stale since %s", in.MarketAsOf.UTC().Format(time.RFC3339)))
	}
	if stale > 0 {
		partial = true
		b.Notes = append(b.Notes, fmt.Sprintf("%d signals older than %s excluded", stale, a.cfg.MaxSignalAge))
	}

	b.Data["raw_document_score"] = raw
	b.Data["risk_terms"] = terms
	b.Data["decided"] = decided
	b.Data["total_verdicts"] = len(verdicts)

	rankEvidence(evidence)

	return model.CredibilityScore{
		EntityID:        in.EntityID,
		Score:           int(math.Round(clamp(final, 0, 100))),
		Coverage:        coverage,
		Confidence:      determineConfidence(coverage, decided, partial),
		PartialEvidence: partial,
		Verdicts:        verdicts,
		Signals:         signals,
		Identifiers:     identifiers,
		Evidence:        evidence,
		Breakdown:       b,
		ComputedAt:      now,
	}
}

// confidenceFactor scales a verdict's weight by how well its claim was read
func (a *Aggregator) confidenceFactor(v model.Verdict) float64 {
	f := clamp(v.Confidence, 0, 1)
	if v.LowConfidence {
		f *= a.cfg.LowConfidenceFactor
	}
	return f
}

func (a *Aggregator) verdictEvidence(v model.Verdict) model.EvidenceItem {
	m := a.cfg.MaterialityOf(v.Metric)
	cf := a.confidenceFactor(v)

	item := model.EvidenceItem{
		Ref:         v.ID,
		Kind:        model.EvidenceVerdict,
		Description: fmt.Sprintf("%s %s: %s", v.Metric, v.Status, v.Rationale),
	}
	if v.MatchedReference != nil {
		item.URL = v.MatchedReference.URL
	}

	switch v.Status {
	case model.StatusConfirmed:
		item.Impact = a.cfg.ConfirmReward * m * cf
		item.Severity = model.SeverityInfo
	case model.StatusContradicted:
		item.Impact = -a.cfg.ContradictPenalty * m * cf
		item.Severity = model.SeverityCritical
	default:
		item.Severity = model.SeverityWarning
	}
	return item
}

func (a *Aggregator) identifierEvidence(id model.Identifier) model.EvidenceItem {
	item := model.EvidenceItem{
		Ref:      string(id.Kind) + ":" + id.Value,
		Kind:     model.EvidenceIdentifier,
		Severity: model.SeverityInfo,
	}
	if id.Record != nil {
		item.Description = fmt.Sprintf("%s %s resolves to %s", id.Kind, id.Value, id.Record.Name)
	}

	switch {
	case !id.Valid:
		item.Impact = -a.cfg.IdentifierPenalty
		item.Severity = model.SeverityCritical
		item.Description = fmt.Sprintf("%s %s is invalid: %s", id.Kind, id.Raw, id.Reason)
	case id.RegistryMatch == model.MatchNotFound:
		item.Impact = -a.cfg.IdentifierPenalty
		item.Severity = model.SeverityCritical
		item.Description = fmt.Sprintf("%s %s not found in registry", id.Kind, id.Value)
	case id.RegistryMatch == model.MatchAmbiguous:
		item.Severity = model.SeverityWarning
		item.Description = fmt.Sprintf("%s %s matches %d registry entities", id.Kind, id.Value, len(id.Candidates))
	case id.RegistryMatch == model.MatchUnknown:
		item.Severity = model.SeverityWarning
		item.Description = fmt.Sprintf("%s %s could not be checked: registry unavailable", id.Kind, id.Value)
	case item.Description == "":
		item.Description = fmt.Sprintf("%s %s registered", id.Kind, id.Value)
	}
	return item
}

// freshSignals drops signals older than MaxSignalAge, returning the rest in
// canonical order and the number dropped
func (a *Aggregator) freshSignals(signals []model.AnomalySignal, now time.Time) ([]model.AnomalySignal, int) {
	out := make([]model.AnomalySignal, 0, len(signals))
	stale := 0
	for _, s := range signals {
		if now.Sub(s.At) > a.cfg.MaxSignalAge {
			stale++
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Magnitude != out[j].Magnitude {
			return out[i].Magnitude < out[j].Magnitude
		}
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence < out[j].Confidence
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out, stale
}

// riskTerm is severity × confidence × kind weight, in [0, 1]
func (a *Aggregator) riskTerm(s model.AnomalySignal) float64 {
	severity := 1.0
	switch s.Kind {
	case model.SignalPriceSpike, model.SignalVolumeSpike:
		severity = math.Min(1, math.Abs(s.Magnitude)/a.cfg.MagnitudeSaturation)
	}
	return clamp(severity*clamp(s.Confidence, 0, 1)*a.cfg.KindWeight(s.Kind), 0, 1)
}

func (a *Aggregator) signalEvidence(s model.AnomalySignal, risk, documentScore float64) model.EvidenceItem {
	severity := model.SeverityWarning
	if risk >= 0.5 {
		severity = model.SeverityCritical
	}
	return model.EvidenceItem{
		Ref:         signalRef(s),
		Kind:        model.EvidenceSignal,
		Severity:    severity,
		Impact:      -documentScore * risk * a.cfg.MaxAnomalyDiscount,
		Description: fmt.Sprintf("%s magnitude %.2f confidence %.2f", s.Kind, s.Magnitude, s.Confidence),
	}
}

func signalRef(s model.AnomalySignal) string {
	return fmt.Sprintf("%s:%s@%s", s.EntityID, s.Kind, s.At.UTC().Format(time.RFC3339))
}

func sortedVerdicts(in []model.Verdict) []model.Verdict {
	out := make([]model.Verdict, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// dedupeIdentifiers keeps the first occurrence of each (kind, value)
func dedupeIdentifiers(in []model.Identifier) []model.Identifier {
	seen := make(map[string]bool, len(in))
	out := make([]model.Identifier, 0, len(in))
	for _, id := range in {
		key := string(id.Kind) + ":" + strings.ToUpper(id.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// rankEvidence orders by |impact| descending, then ref
func rankEvidence(items []model.EvidenceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := math.Abs(items[i].Impact), math.Abs(items[j].Impact)
		if ai != aj {
			return ai > aj
		}
		return items[i].Ref < items[j].Ref
	})
}

// determineConfidence rates how much of the claim set was decided
func determineConfidence(coverage float64, decided int, partial bool) string {
	switch {
	case decided == 0:
		return "low"
	case coverage >= 0.75 && decided >= 3 && !partial:
		return "high"
	case coverage >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
