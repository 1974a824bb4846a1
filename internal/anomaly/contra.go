package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/credible/internal/model"
)

// TrendReading is the market state an announcement is compared against
type TrendReading struct {
	Last float64
	MA   float64
	RSI  float64
}

// ReadTrend computes the moving average and RSI at the end of closes. It
// returns false when there are fewer than maPeriod closes.
func ReadTrend(closes []float64, maPeriod, rsiPeriod int) (TrendReading, bool) {
	if maPeriod < 1 || len(closes) < maPeriod || len(closes) < rsiPeriod+1 {
		return TrendReading{}, false
	}

	var sum float64
	for _, c := range closes[len(closes)-maPeriod:] {
		sum += c
	}

	var up, down float64
	for i := len(closes) - rsiPeriod; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			up += d
		} else {
			down -= d
		}
	}
	up /= float64(rsiPeriod)
	down /= float64(rsiPeriod)
	rs := up / (down + 1e-9)

	return TrendReading{
		Last: closes[len(closes)-1],
		MA:   sum / float64(maPeriod),
		RSI:  100 - 100/(1+rs),
	}, true
}

// ContradictionScore counts the ways the trend disagrees with the tone:
// positive news below the moving average or overbought, negative news above
// it or oversold. Neutral tone never contradicts.
func ContradictionScore(r TrendReading, tone model.Tone) int {
	score := 0
	switch tone {
	case model.TonePositive:
		if r.Last < r.MA {
			score++
		}
		if r.RSI > 70 {
			score++
		}
	case model.ToneNegative:
		if r.Last > r.MA {
			score++
		}
		if r.RSI < 30 {
			score++
		}
	}
	return score
}

// ToneContradiction compares an announcement's tone at time at with the
// entity's trend over the preceding WindowDays. It returns no signal when the
// tone is neutral, history is short, or nothing contradicts.
func (s *Scorer) ToneContradiction(ctx context.Context, entityID string, tone model.Tone, at time.Time) (model.AnomalySignal, bool, error) {
	if tone == model.ToneNeutral || tone == "" {
		return model.AnomalySignal{}, false, nil
	}

	window := model.Window{Start: at.AddDate(0, 0, -s.cfg.WindowDays), End: at}
	series, err := s.source.Series(ctx, entityID, window)
	if err != nil {
		return model.AnomalySignal{}, false, fmt.Errorf("fetch series: %w", err)
	}

	closes := make([]float64, 0, len(series.Bars))
	for _, b := range series.Bars {
		if !b.Time.After(at) {
			closes = append(closes, b.Close)
		}
	}
	reading, ok := ReadTrend(closes, s.cfg.MAPeriod, s.cfg.RSIPeriod)
	if !ok {
		return model.AnomalySignal{}, false, nil
	}

	score := ContradictionScore(reading, tone)
	if score == 0 {
		return model.AnomalySignal{}, false, nil
	}
	return model.AnomalySignal{
		EntityID:   entityID,
		Window:     window,
		At:         at,
		Kind:       model.SignalToneContradiction,
		Magnitude:  float64(score),
		Confidence: float64(score) / 2,
		Detail: map[string]interface{}{
			"tone":       string(tone),
			"last_close": reading.Last,
			"ma":         reading.MA,
			"rsi":        reading.RSI,
		},
	}, true, nil
}
