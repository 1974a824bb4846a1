// Package anomaly scores market behaviour around an entity independently of
// any document: price and volume deviations from a rolling baseline, spikes
// coordinated across linked entities, and price trends that run against an
// announcement's tone.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
)

// Scorer turns market series into anomaly signals
type Scorer struct {
	source MarketSource
	cfg    model.AnomalyConfig
	log    *logging.Logger
}

// ScorerOption configures a Scorer
type ScorerOption func(*Scorer)

// WithScorerLogger sets the logger
func WithScorerLogger(l *logging.Logger) ScorerOption {
	return func(s *Scorer) { s.log = l }
}

// NewScorer creates a scorer over source
func NewScorer(source MarketSource, cfg model.AnomalyConfig, opts ...ScorerOption) *Scorer {
	s := &Scorer{source: source, cfg: cfg, log: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the signals for entityID within window, ordered by time then
// kind. Bars before window.Start returned by the source only serve as baseline.
func (s *Scorer) Score(ctx context.Context, entityID string, window model.Window) ([]model.AnomalySignal, error) {
	series, err := s.source.Series(ctx, entityID, s.baselineWindow(window))
	if err != nil {
		return nil, fmt.Errorf("fetch series: %w", err)
	}

	signals := s.spikes(series, window)
	if related := s.cfg.Linkage[entityID]; len(related) > 0 && len(signals) > 0 {
		corr, err := s.correlated(ctx, entityID, signals, related, window)
		if err != nil {
			return nil, err
		}
		signals = append(signals, corr...)
	}

	sortSignals(signals)
	return signals, nil
}

// baselineWindow widens window so the first bars in it have a full lookback.
// Bars are assumed to be at most daily.
func (s *Scorer) baselineWindow(w model.Window) model.Window {
	if w.Start.IsZero() {
		return w
	}
	pad := (s.cfg.Lookback + 1) * 2 // Calendar days covering weekends and holidays
	return model.Window{Start: w.Start.AddDate(0, 0, -pad), End: w.End}
}

// spikes flags bars whose return or volume deviates from the trailing
// Lookback bars by at least ZThreshold standard deviations
func (s *Scorer) spikes(series model.MarketSeries, window model.Window) []model.AnomalySignal {
	bars := series.Bars
	lookback := s.cfg.Lookback
	if len(bars) < lookback+2 {
		return nil
	}

	returns := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close != 0 {
			returns[i] = bars[i].Close/bars[i-1].Close - 1
		}
	}
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		volumes[i] = b.Volume
	}

	var out []model.AnomalySignal
	for i := lookback + 1; i < len(bars); i++ {
		bar := bars[i]
		if !inWindow(window, bar) {
			continue
		}
		bw := model.Window{Start: bars[i-lookback].Time, End: bar.Time}

		// Returns are already relative to price, so the floor is the fraction itself
		rMean, rStd := meanStd(returns[i-lookback : i])
		rStd = math.Max(rStd, s.cfg.MinStdFraction)
		if rStd > 0 {
			z := (returns[i] - rMean) / rStd
			if math.Abs(z) >= s.cfg.ZThreshold {
				direction := "up"
				if z < 0 {
					direction = "down"
				}
				out = append(out, model.AnomalySignal{
					EntityID:   series.EntityID,
					Window:     bw,
					At:         bar.Time,
					Kind:       model.SignalPriceSpike,
					Magnitude:  math.Abs(z),
					Confidence: s.confidence(z),
					Detail: map[string]interface{}{
						"return":        returns[i],
						"baseline_mean": rMean,
						"baseline_std":  rStd,
						"direction":     direction,
						"close":         bar.Close,
					},
				})
			}
		}

		vMean, vStd := meanStd(volumes[i-lookback : i])
		vStd = math.Max(vStd, s.cfg.MinStdFraction*math.Abs(vMean))
		if vStd > 0 && vMean > 0 {
			z := (bar.Volume - vMean) / vStd
			ratio := bar.Volume / vMean
			if z >= s.cfg.ZThreshold && ratio >= s.cfg.MinVolumeRatio {
				out = append(out, model.AnomalySignal{
					EntityID:   series.EntityID,
					Window:     bw,
					At:         bar.Time,
					Kind:       model.SignalVolumeSpike,
					Magnitude:  z,
					Confidence: s.confidence(z),
					Detail: map[string]interface{}{
						"volume":        bar.Volume,
						"baseline_mean": vMean,
						"baseline_std":  vStd,
						"ratio":         ratio,
					},
				})
			}
		}
	}
	return out
}

// correlated emits a signal for each target spike that related entities
// echoed within CoordinationWindow
func (s *Scorer) correlated(ctx context.Context, entityID string, target []model.AnomalySignal, related []string, window model.Window) ([]model.AnomalySignal, error) {
	relatedSpikes := make(map[string][]model.AnomalySignal, len(related))
	for _, rel := range related {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		series, err := s.source.Series(ctx, rel, s.baselineWindow(window))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			s.log.Warn().Err(err).Str("entity", entityID).Str("related", rel).Msg("related series unavailable")
			continue
		}
		relatedSpikes[rel] = s.spikes(series, window)
	}

	seen := map[int64]bool{}
	var out []model.AnomalySignal
	for _, sig := range target {
		key := sig.At.UnixNano()
		if seen[key] {
			continue
		}

		var partners []string
		conf := sig.Confidence
		for _, rel := range related {
			for _, rs := range relatedSpikes[rel] {
				if absDuration(rs.At.Sub(sig.At)) <= s.cfg.CoordinationWindow {
					partners = append(partners, rel)
					conf = math.Max(conf, rs.Confidence)
					break
				}
			}
		}
		if len(partners) < s.cfg.MinCorrelated {
			continue
		}

		seen[key] = true
		out = append(out, model.AnomalySignal{
			EntityID:   entityID,
			Window:     model.Window{Start: sig.At.Add(-s.cfg.CoordinationWindow), End: sig.At.Add(s.cfg.CoordinationWindow)},
			At:         sig.At,
			Kind:       model.SignalCorrelatedTrading,
			Magnitude:  float64(len(partners)),
			Confidence: conf * float64(len(partners)) / float64(len(related)),
			Detail: map[string]interface{}{
				"related":      strings.Join(partners, ","),
				"trigger_kind": string(sig.Kind),
			},
		})
	}
	return out, nil
}

// confidence grows from 0.5 at the threshold to 1 at twice the threshold
func (s *Scorer) confidence(z float64) float64 {
	t := s.cfg.ZThreshold
	c := 0.5 + 0.5*(math.Abs(z)-t)/t
	return math.Min(1, math.Max(0, c))
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}

func inWindow(w model.Window, b model.Bar) bool {
	return (w.Start.IsZero() || !b.Time.Before(w.Start)) && (w.End.IsZero() || !b.Time.After(w.End))
}

func sortSignals(signals []model.AnomalySignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if !signals[i].At.Equal(signals[j].At) {
			return signals[i].At.Before(signals[j].At)
		}
		if signals[i].Kind != signals[j].Kind {
			return signals[i].Kind < signals[j].Kind
		}
		if signals[i].EntityID != signals[j].EntityID {
			return signals[i].EntityID < signals[j].EntityID
		}
		if signals[i].DocumentID != signals[j].DocumentID {
			return signals[i].DocumentID < signals[j].DocumentID
		}
		if signals[i].Magnitude != signals[j].Magnitude {
			return signals[i].Magnitude < signals[j].Magnitude
		}
		return signals[i].Confidence < signals[j].Confidence
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
