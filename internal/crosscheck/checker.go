// Package crosscheck compares extracted claims with independently filed
// reference values and records a verdict for each.
package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
)

var verdictNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ppiankov/credible/verdict"))

// Subject is the entity a document speaks about, with the identifiers it cited
type Subject struct {
	EntityID string
	// ResolvedFrom is the identifier EntityID was derived from; nil when the
	// submitter named the entity
	ResolvedFrom *model.Identifier
	Mentions     []Mention
}

// Mention is a validated identifier and where the document cites it
type Mention struct {
	Identifier model.Identifier
	Span       model.Span
}

// Checker produces one Verdict per Claim
type Checker struct {
	sources            []ReferenceSource
	history            *HistorySource
	recordHistory      bool
	tolerance          decimal.Decimal
	deviation          decimal.Decimal
	window             time.Duration
	identifierDiscount float64
	now                func() time.Time
	log                *logging.Logger
}

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithHistory consults h as the weakest source and feeds it confirmed claims
func WithHistory(h *HistorySource) CheckerOption {
	return func(c *Checker) { c.history = h }
}

// WithCheckerClock sets the clock used for verdict timestamps
func WithCheckerClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

// WithCheckerLogger sets the logger
func WithCheckerLogger(l *logging.Logger) CheckerOption {
	return func(c *Checker) { c.log = l }
}

// NewChecker creates a checker over sources, in any order; precedence comes
// from each record's tier
func NewChecker(cfg model.CrossCheckConfig, sources []ReferenceSource, opts ...CheckerOption) *Checker {
	c := &Checker{
		sources:            sources,
		recordHistory:      cfg.RecordConfirmations,
		tolerance:          decimal.NewFromFloat(cfg.RelativeTolerance),
		deviation:          decimal.NewFromFloat(cfg.DeviationThreshold),
		window:             time.Duration(cfg.DateWindowDays) * 24 * time.Hour,
		identifierDiscount: cfg.IdentifierDiscount,
		now:                time.Now,
		log:                logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.history != nil {
		c.sources = append(c.sources, c.history)
	}
	return c
}

// CheckAll checks claims in order
func (c *Checker) CheckAll(ctx context.Context, claims []model.Claim, subject Subject) []model.Verdict {
	out := make([]model.Verdict, 0, len(claims))
	for _, claim := range claims {
		out = append(out, c.Check(ctx, claim, subject))
	}
	return out
}

// Check compares a claim with the reference records in scope.
//
// Without a candidate record the verdict is unverifiable, never contradicted.
// If the identifier the claim is attributed through did not resolve cleanly
// the verdict is unverifiable with its confidence discounted.
func (c *Checker) Check(ctx context.Context, claim model.Claim, subject Subject) model.Verdict {
	now := c.now().UTC()
	v := model.Verdict{
		ID:            verdictID(claim.ID, now),
		ClaimID:       claim.ID,
		EntityID:      subject.EntityID,
		Metric:        claim.Metric,
		Status:        model.StatusUnverifiable,
		Confidence:    claim.Confidence,
		LowConfidence: claim.LowConfidence,
		CreatedAt:     now,
	}

	if problems := attributionProblems(claim, subject); len(problems) > 0 {
		v.Confidence = claim.Confidence * (1 - c.identifierDiscount)
		v.Rationale = "subject not attributable: " + strings.Join(problems, "; ")
		return c.done(v)
	}
	if subject.EntityID == "" {
		v.Rationale = "subject entity unknown: no identifier or entity hint resolved"
		return c.done(v)
	}

	candidates, errs := c.candidates(ctx, claim, subject.EntityID)
	if len(candidates) == 0 {
		switch {
		case len(errs) > 0 && len(errs) == len(c.sources):
			v.Rationale = "reference sources unavailable: " + errors.Join(errs...).Error()
		case claim.AsOf != nil:
			v.Rationale = fmt.Sprintf("no %s reference for %s within %d days of %s",
				claim.Metric, subject.EntityID, int(c.window.Hours()/24), claim.AsOf.Format("2006-01-02"))
		default:
			v.Rationale = fmt.Sprintf("no %s reference for %s", claim.Metric, subject.EntityID)
		}
		return c.done(v)
	}

	ref := candidates[0]
	v.MatchedReference = &ref

	rel, ok := relativeDiff(claim.Value, ref.Value)
	desc := fmt.Sprintf("%s %s %s vs %s %s in %s %s (filed %s)",
		claim.Metric, claim.Value.String(), claim.Unit, ref.Value.String(), ref.Unit,
		ref.Tier, ref.Source, ref.FiledAt.Format("2006-01-02"))
	switch {
	case !ok:
		v.Status = model.StatusContradicted
		v.Rationale = desc + ": reference is zero, claim is not"
	case rel.LessThanOrEqual(c.tolerance):
		v.Status = model.StatusConfirmed
		v.RelativeDiff = &rel
		v.Rationale = fmt.Sprintf("%s: relative difference %s within tolerance %s", desc, percent(rel), percent(c.tolerance))
	default:
		v.Status = model.StatusContradicted
		v.RelativeDiff = &rel
		v.Rationale = fmt.Sprintf("%s: relative difference %s exceeds tolerance %s", desc, percent(rel), percent(c.tolerance))
	}
	if len(candidates) > 1 {
		v.Rationale += fmt.Sprintf(" [%d candidate records, latest filing preferred]", len(candidates))
	}

	if v.Status == model.StatusConfirmed && c.history != nil && c.recordHistory {
		c.history.Record(claim, v)
	}
	return c.done(v)
}

func (c *Checker) done(v model.Verdict) model.Verdict {
	c.log.Debug().
		Str("claim", v.ClaimID).
		Str("entity", v.EntityID).
		Str("metric", string(v.Metric)).
		Str("status", string(v.Status)).
		Msg(v.Rationale)
	return v
}

// candidates returns the in-scope records ordered best first: latest filing
// day, then stronger tier, then record id
func (c *Checker) candidates(ctx context.Context, claim model.Claim, entityID string) ([]model.ReferenceRecord, []error) {
	var (
		out  []model.ReferenceRecord
		errs []error
	)
	for _, src := range c.sources {
		recs, err := src.References(ctx, entityID, claim.Metric)
		if err != nil {
			c.log.Warn().Err(err).Str("source", src.Name()).Str("entity", entityID).Msg("reference lookup failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		for _, r := range recs {
			if r.ID == historyID(claim.ID) || !unitsCompatible(claim.Unit, r.Unit) {
				continue
			}
			if claim.AsOf != nil && absDuration(r.AsOf.Sub(*claim.AsOf)) > c.window {
				continue
			}
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := filingDay(out[i].FiledAt), filingDay(out[j].FiledAt)
		if !di.Equal(dj) {
			return di.After(dj)
		}
		if ri, rj := tierRank(out[i].Tier), tierRank(out[j].Tier); ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out, errs
}

// attributionProblems explains why claim cannot be tied to the subject.
// Identifiers cited in the claim's own sentence decide when present;
// otherwise the identifier the subject was resolved from does. Bad
// identifiers cited elsewhere in the document do not block the claim.
func attributionProblems(claim model.Claim, subject Subject) []string {
	var near []model.Identifier
	if claim.Sentence.Len() > 0 {
		for _, m := range subject.Mentions {
			if claim.Sentence.Contains(m.Span) {
				near = append(near, m.Identifier)
			}
		}
	}
	if len(near) > 0 {
		if slices.ContainsFunc(near, model.Identifier.Usable) {
			return nil
		}
		return identifierProblems(near)
	}

	switch {
	case subject.EntityID == "":
		ids := make([]model.Identifier, 0, len(subject.Mentions))
		for _, m := range subject.Mentions {
			ids = append(ids, m.Identifier)
		}
		return identifierProblems(ids)
	case subject.ResolvedFrom != nil:
		return identifierProblems([]model.Identifier{*subject.ResolvedFrom})
	}
	return nil
}

// identifierProblems lists what is wrong with each distinct identifier
func identifierProblems(ids []model.Identifier) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		k := string(id.Kind) + ":" + id.Value
		if seen[k] {
			continue
		}
		seen[k] = true
		label := string(id.Kind) + " " + id.Raw
		switch {
		case !id.Valid:
			out = append(out, fmt.Sprintf("%s is invalid (%s)", label, id.Reason))
		case id.RegistryMatch == model.MatchUnknown:
			out = append(out, label+" could not be resolved, registry unavailable")
		case id.RegistryMatch == model.MatchNotFound:
			out = append(out, label+" not found in registry")
		case id.RegistryMatch == model.MatchAmbiguous:
			names := make([]string, 0, len(id.Candidates))
			for _, cand := range id.Candidates {
				names = append(names, fmt.Sprintf("%s (%s)", cand.EntityID, cand.Name))
			}
			out = append(out, fmt.Sprintf("%s matches %d entities: %s", label, len(names), strings.Join(names, ", ")))
		}
	}
	return out
}

// relativeDiff returns |claim-ref|/|ref|; ok is false when ref is zero and claim is not
func relativeDiff(claim, ref decimal.Decimal) (decimal.Decimal, bool) {
	if ref.IsZero() {
		return decimal.Zero, claim.IsZero()
	}
	return claim.Sub(ref).Abs().Div(ref.Abs()), true
}

func unitsCompatible(a, b string) bool {
	return a == "" || b == "" || strings.EqualFold(a, b)
}

func tierRank(t model.SourceTier) int {
	if t == model.TierUnknown {
		return int(model.TierHistory) + 1
	}
	return int(t)
}

func filingDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func verdictID(claimID string, at time.Time) string {
	return uuid.NewSHA1(verdictNamespace, []byte(claimID+"|"+at.Format(time.RFC3339Nano))).String()
}
