package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credible/internal/model"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAggregator() *Aggregator {
	return NewAggregator(model.DefaultConfig().Scoring, WithClock(func() time.Time { return now }))
}

func verdict(id string, status model.VerdictStatus, metric model.Metric) model.Verdict {
	return model.Verdict{
		ID:         id,
		ClaimID:    "claim-" + id,
		EntityID:   "ACME",
		Metric:     metric,
		Status:     status,
		Rationale:  "test",
		Confidence: 1,
		CreatedAt:  now.Add(-time.Hour),
	}
}

func volumeSpike(at time.Time, z float64) model.AnomalySignal {
	return model.AnomalySignal{
		EntityID:   "ACME",
		At:         at,
		Kind:       model.SignalVolumeSpike,
		Magnitude:  z,
		Confidence: 1,
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	a := newTestAggregator()
	in := Input{
		EntityID: "ACME",
		Verdicts: []model.Verdict{
			verdict("v1", model.StatusConfirmed, model.MetricRevenue),
			verdict("v2", model.StatusContradicted, model.MetricNetProfit),
			verdict("v3", model.StatusUnverifiable, model.MetricEBITDA),
		},
		Signals: []model.AnomalySignal{
			volumeSpike(now.Add(-2*time.Hour), 6),
			{EntityID: "ACME", At: now.Add(-2 * time.Hour), Kind: model.SignalHypeLanguage, Magnitude: 2, Confidence: 0.7},
		},
		MarketAsOf: now.Add(-time.Hour),
	}
	shuffled := Input{
		EntityID:   in.EntityID,
		Verdicts:   []model.Verdict{in.Verdicts[2], in.Verdicts[0], in.Verdicts[1]},
		Signals:    []model.AnomalySignal{in.Signals[1], in.Signals[0]},
		MarketAsOf: in.MarketAsOf,
	}

	first := a.Aggregate(in)
	assert.Equal(t, first, a.Aggregate(in))
	assert.Equal(t, first, a.Aggregate(shuffled))
}

func TestAggregate_SignalOrderIgnoresInputOrder(t *testing.T) {
	a := newTestAggregator()
	at := now.Add(-2 * time.Hour)
	hype := func(entity, doc string, conf float64) model.AnomalySignal {
		return model.AnomalySignal{EntityID: entity, DocumentID: doc, At: at, Kind: model.SignalHypeLanguage, Magnitude: 2, Confidence: conf}
	}
	signals := []model.AnomalySignal{
		hype("ACME", "doc-2", 0.4),
		hype("ACME", "doc-1", 0.9),
		hype("ACME-SUB", "doc-1", 0.4),
		hype("ACME", "doc-1", 0.4),
	}
	reversed := []model.AnomalySignal{signals[3], signals[2], signals[1], signals[0]}

	first := a.Aggregate(Input{EntityID: "ACME", Signals: signals})
	second := a.Aggregate(Input{EntityID: "ACME", Signals: reversed})
	assert.Equal(t, first, second)
	require.Len(t, first.Signals, 4)
	assert.Equal(t, "ACME", first.Signals[0].EntityID)
	assert.Equal(t, 0.4, first.Signals[0].Confidence)
	assert.Equal(t, "doc-1", first.Signals[0].DocumentID)
	assert.Equal(t, "ACME-SUB", first.Signals[3].EntityID)
}

func TestAggregate_AsymmetricWeights(t *testing.T) {
	a := newTestAggregator()

	confirmed := a.Aggregate(Input{
		EntityID:   "ACME",
		Verdicts:   []model.Verdict{verdict("v1", model.StatusConfirmed, model.MetricRevenue)},
		MarketAsOf: now,
	})
	contradicted := a.Aggregate(Input{
		EntityID:   "ACME",
		Verdicts:   []model.Verdict{verdict("v1", model.StatusContradicted, model.MetricRevenue)},
		MarketAsOf: now,
	})

	assert.Equal(t, 60, confirmed.Score)
	assert.Equal(t, 25, contradicted.Score)
	assert.Greater(t, 50-contradicted.Score, confirmed.Score-50)
	assert.False(t, confirmed.PartialEvidence)
	assert.Equal(t, 1.0, confirmed.Coverage)
}

func TestAggregate_UnverifiableIsNeutralButLowersCoverage(t *testing.T) {
	res := newTestAggregator().Aggregate(Input{
		EntityID: "ACME",
		Verdicts: []model.Verdict{
			verdict("v1", model.StatusConfirmed, model.MetricRevenue),
			verdict("v2", model.StatusUnverifiable, model.MetricRevenue),
			verdict("v3", model.StatusUnverifiable, model.MetricRevenue),
			verdict("v4", model.StatusUnverifiable, model.MetricRevenue),
		},
		MarketAsOf: now,
	})

	assert.Equal(t, 60, res.Score)
	assert.Equal(t, 0.25, res.Coverage)
	assert.Equal(t, "low", res.Confidence)
	assert.Equal(t, 3, res.Breakdown.Counts[model.StatusUnverifiable])
}

func TestAggregate_MaterialityAndConfidence(t *testing.T) {
	a := newTestAggregator()

	order := a.Aggregate(Input{
		Verdicts:   []model.Verdict{verdict("v1", model.StatusConfirmed, model.MetricOrderValue)},
		MarketAsOf: now,
	})
	assert.Equal(t, 57, order.Score)

	low := verdict("v1", model.StatusConfirmed, model.MetricRevenue)
	low.LowConfidence = true
	res := a.Aggregate(Input{Verdicts: []model.Verdict{low}, MarketAsOf: now})
	assert.Equal(t, 55, res.Score)
	assert.InDelta(t, 5.0, res.Breakdown.ConfirmedPoints, 1e-9)
}

func TestAggregate_VolumeSpikeDiscountsButDoesNotZero(t *testing.T) {
	a := newTestAggregator()
	verdicts := []model.Verdict{
		verdict("v1", model.StatusConfirmed, model.MetricRevenue),
		verdict("v2", model.StatusConfirmed, model.MetricRevenue),
		verdict("v3", model.StatusConfirmed, model.MetricRevenue),
	}

	clean := a.Aggregate(Input{EntityID: "ACME", Verdicts: verdicts, MarketAsOf: now})
	require.Equal(t, 80, clean.Score)
	assert.Equal(t, "high", clean.Confidence)

	spiked := a.Aggregate(Input{
		EntityID:   "ACME",
		Verdicts:   verdicts,
		Signals:    []model.AnomalySignal{volumeSpike(now.Add(-3*time.Hour), 395)},
		MarketAsOf: now,
	})
	assert.Equal(t, 61, spiked.Score)
	assert.Less(t, spiked.Score, clean.Score)
	assert.InDelta(t, 0.6, spiked.Breakdown.AnomalyRisk, 1e-9)
	assert.InDelta(t, 0.24, spiked.Breakdown.AnomalyDiscount, 1e-9)
	require.Len(t, spiked.Signals, 1)

	// Any number of signals is capped at MaxAnomalyDiscount
	var flood []model.AnomalySignal
	for i := 0; i < 20; i++ {
		flood = append(flood, model.AnomalySignal{
			EntityID: "ACME", At: now.Add(-time.Duration(i) * time.Hour),
			Kind: model.SignalCorrelatedTrading, Magnitude: 3, Confidence: 1,
		})
	}
	flooded := a.Aggregate(Input{EntityID: "ACME", Verdicts: verdicts, Signals: flood, MarketAsOf: now})
	assert.Equal(t, 48, flooded.Score)
	assert.Greater(t, flooded.Score, 0)
}

func TestAggregate_DocumentEvidenceCannotMaskAnomalies(t *testing.T) {
	a := newTestAggregator()
	var verdicts []model.Verdict
	for _, id := range []string{"v1", "v2", "v3", "v4"} {
		verdicts = append(verdicts, verdict(id, model.StatusContradicted, model.MetricRevenue))
	}

	res := a.Aggregate(Input{
		EntityID:   "ACME",
		Verdicts:   verdicts,
		Signals:    []model.AnomalySignal{volumeSpike(now.Add(-time.Hour), 50)},
		MarketAsOf: now,
	})

	assert.Equal(t, 5.0, res.Breakdown.DocumentScore)
	assert.Contains(t, res.Breakdown.Notes, "document evidence floored at 5")
	assert.Equal(t, 4, res.Score)
	assert.Greater(t, res.Score, 0)
}

func TestAggregate_IdentifierPenalties(t *testing.T) {
	ids := []model.Identifier{
		{Kind: model.KindISIN, Raw: "INE002A01019", Value: "INE002A01019", Valid: false, Reason: "check digit", RegistryMatch: model.MatchSkipped},
		{Kind: model.KindISIN, Raw: "INE002A01019", Value: "INE002A01019", Valid: false, RegistryMatch: model.MatchSkipped},
		{Kind: model.KindLEI, Value: "HWUPKR0MPOU8FGXBT394", Valid: true, RegistryMatch: model.MatchNotFound},
		{Kind: model.KindCIN, Value: "L17110MH1973PLC019786", Valid: true, RegistryMatch: model.MatchUnknown},
		{Kind: model.KindISIN, Value: "INE467B01029", Valid: true, RegistryMatch: model.MatchFound,
			Record: &model.RegistryRecord{EntityID: "TCS", Name: "Tata Consultancy Services"}},
	}

	res := newTestAggregator().Aggregate(Input{
		EntityID:    "ACME",
		Verdicts:    []model.Verdict{verdict("v1", model.StatusConfirmed, model.MetricRevenue)},
		Identifiers: ids,
		MarketAsOf:  now,
	})

	assert.Equal(t, 40, res.Score)
	assert.Equal(t, 20.0, res.Breakdown.IdentifierPoints)
	assert.Len(t, res.Identifiers, 4)

	var described []string
	for _, e := range res.Evidence {
		if e.Kind == model.EvidenceIdentifier {
			described = append(described, e.Description)
		}
	}
	assert.Contains(t, described, "ISIN INE467B01029 resolves to Tata Consultancy Services")
	assert.Contains(t, described, "CIN L17110MH1973PLC019786 could not be checked: registry unavailable")
}

func TestAggregate_PartialEvidence(t *testing.T) {
	a := newTestAggregator()
	confirmed := []model.Verdict{verdict("v1", model.StatusConfirmed, model.MetricRevenue)}

	t.Run("no verdicts", func(t *testing.T) {
		res := a.Aggregate(Input{EntityID: "ACME", MarketAsOf: now})
		assert.True(t, res.PartialEvidence)
		assert.Equal(t, 50, res.Score)
		assert.Equal(t, "low", res.Confidence)
		assert.Equal(t, 0.0, res.Coverage)
	})

	t.Run("market never scored", func(t *testing.T) {
		res := a.Aggregate(Input{EntityID: "ACME", Verdicts: confirmed})
		assert.True(t, res.PartialEvidence)
		assert.Contains(t, res.Breakdown.Notes, "market data not scored")
		assert.Equal(t, 60, res.Score)
	})

	t.Run("market stale", func(t *testing.T) {
		res := a.Aggregate(Input{EntityID: "ACME", Verdicts: confirmed, MarketAsOf: now.Add(-48 * time.Hour)})
		assert.True(t, res.PartialEvidence)
	})

	t.Run("old signals excluded", func(t *testing.T) {
		res := a.Aggregate(Input{
			EntityID:   "ACME",
			Verdicts:   confirmed,
			Signals:    []model.AnomalySignal{volumeSpike(now.AddDate(0, 0, -31), 40)},
			MarketAsOf: now,
		})
		assert.True(t, res.PartialEvidence)
		assert.Equal(t, 1, res.Breakdown.StaleSignals)
		assert.Empty(t, res.Signals)
		assert.Equal(t, 60, res.Score)
	})

	t.Run("complete", func(t *testing.T) {
		res := a.Aggregate(Input{EntityID: "ACME", Verdicts: confirmed, MarketAsOf: now.Add(-time.Hour)})
		assert.False(t, res.PartialEvidence)
		assert.Empty(t, res.Breakdown.Notes)
		assert.Equal(t, now, res.ComputedAt)
	})
}

func TestAggregate_EvidenceRanking(t *testing.T) {
	confirmed := verdict("v-confirmed", model.StatusConfirmed, model.MetricRevenue)
	confirmed.MatchedReference = &model.ReferenceRecord{ID: "bse-1", URL: "https://www.bseindia.com/filing/1"}

	res := newTestAggregator().Aggregate(Input{
		EntityID: "ACME",
		Verdicts: []model.Verdict{
			confirmed,
			verdict("v-contradicted", model.StatusContradicted, model.MetricRevenue),
			verdict("v-unverifiable", model.StatusUnverifiable, model.MetricRevenue),
		},
		Identifiers: []model.Identifier{{Kind: model.KindLEI, Value: "HWUPKR0MPOU8FGXBT394", Valid: true, RegistryMatch: model.MatchNotFound}},
		MarketAsOf:  now,
	})

	require.Len(t, res.Evidence, 4)
	assert.Equal(t, "v-contradicted", res.Evidence[0].Ref)
	assert.Equal(t, -25.0, res.Evidence[0].Impact)
	assert.Equal(t, model.SeverityCritical, res.Evidence[0].Severity)
	assert.Equal(t, "LEI:HWUPKR0MPOU8FGXBT394", res.Evidence[1].Ref)
	assert.Equal(t, "v-confirmed", res.Evidence[2].Ref)
	assert.Equal(t, "https://www.bseindia.com/filing/1", res.Evidence[2].URL)
	assert.Equal(t, "v-unverifiable", res.Evidence[3].Ref)
	assert.Equal(t, 0.0, res.Evidence[3].Impact)
}

func TestDetermineConfidence(t *testing.T) {
	tests := []struct {
		coverage float64
		decided  int
		partial  bool
		want     string
	}{
		{0, 0, false, "low"},
		{1, 3, false, "high"},
		{1, 3, true, "medium"},
		{1, 2, false, "medium"},
		{0.5, 4, false, "medium"},
		{0.4, 4, false, "low"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, determineConfidence(tt.coverage, tt.decided, tt.partial),
			"coverage=%.2f decided=%d partial=%v", tt.coverage, tt.decided, tt.partial)
	}
}
