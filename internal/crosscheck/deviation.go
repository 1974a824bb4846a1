package crosscheck

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/credible/internal/model"
)

// Deviation compares a dated claim with the mean of the entity's filings for
// earlier periods. It returns a filing-deviation signal when the relative
// deviation exceeds the configured threshold; ok is false when there is no
// earlier filing or the deviation is within bounds.
func (c *Checker) Deviation(ctx context.Context, claim model.Claim, entityID string, at time.Time) (model.AnomalySignal, bool) {
	if claim.AsOf == nil || entityID == "" {
		return model.AnomalySignal{}, false
	}

	var values []decimal.Decimal
	seen := make(map[string]bool)
	for _, src := range c.sources {
		recs, err := src.References(ctx, entityID, claim.Metric)
		if err != nil {
			continue
		}
		for _, r := range recs {
			if r.ID == historyID(claim.ID) || seen[r.ID] || !unitsCompatible(claim.Unit, r.Unit) {
				continue
			}
			if !r.AsOf.Before(*claim.AsOf) {
				continue
			}
			seen[r.ID] = true
			values = append(values, r.Value)
		}
	}
	if len(values) == 0 {
		return model.AnomalySignal{}, false
	}

	mean := decimal.Avg(values[0], values[1:]...)
	if mean.IsZero() {
		return model.AnomalySignal{}, false
	}
	dev := claim.Value.Sub(mean).Div(mean.Abs())
	if dev.Abs().LessThanOrEqual(c.deviation) {
		return model.AnomalySignal{}, false
	}

	magnitude, _ := dev.Float64()
	return model.AnomalySignal{
		EntityID:   entityID,
		Window:     model.Window{Start: *claim.AsOf, End: *claim.AsOf},
		At:         at,
		Kind:       model.SignalFilingDeviation,
		Magnitude:  magnitude,
		Confidence: claim.Confidence,
		DocumentID: claim.DocumentID,
		Detail: map[string]interface{}{
			"claim_id":        claim.ID,
			"metric":          string(claim.Metric),
			"value":           claim.Value.String(),
			"historical_mean": mean.String(),
			"prior_filings":   len(values),
		},
	}, true
}
