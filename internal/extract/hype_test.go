package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credible/internal/model"
)

func TestDetectHype(t *testing.T) {
	r := DetectHype("Sure shot multibagger! Target 500 in 2 weeks, guaranteed 10x returns.")

	var phrases []string
	for _, f := range r.Findings {
		phrases = append(phrases, f.Phrase)
	}
	assert.ElementsMatch(t, []string{"sure shot", "guaranteed", "x returns", "multibagger", "price target"}, phrases)
	assert.Equal(t, 50, r.Score)
}

func TestDetectHype_CappedAndClean(t *testing.T) {
	loud := "sure-shot guaranteed 5x return multi bagger insider tip firm allotment pre-IPO pumping " +
		"target ₹900 100% returns assured"
	assert.Equal(t, 100, DetectHype(loud).Score)

	clean := DetectHype("The board approved the audited results for the quarter ended June 30, 2024.")
	assert.Zero(t, clean.Score)
	assert.Empty(t, clean.Findings)
}

func TestDetectHype_RumourPhrases(t *testing.T) {
	r := DetectHype("Fake news about the company! This is a scam, sell-off rumours everywhere. Buy now before it's too late.")

	var phrases []string
	for _, f := range r.Findings {
		phrases = append(phrases, f.Phrase)
	}
	assert.ElementsMatch(t, []string{"buy now", "scam", "fake news", "sell-off rumour"}, phrases)

	assert.Zero(t, DetectHype("Company confirms acquisition in an official regulatory filing.").Score)
}

func TestHypeSignal(t *testing.T) {
	at := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	text := textOf("tip-1", "Guaranteed multibagger, buy now!", 0.7)

	sig, ok := HypeSignal("RELIANCE", text, at)
	require.True(t, ok)
	assert.Equal(t, model.SignalHypeLanguage, sig.Kind)
	assert.Equal(t, "RELIANCE", sig.EntityID)
	assert.Equal(t, 3.0, sig.Magnitude)
	assert.Equal(t, 0.7, sig.Confidence)
	assert.Equal(t, at, sig.At)
	assert.Equal(t, "tip-1", sig.DocumentID)
	assert.Equal(t, 30, sig.Detail["hype_score"])

	_, ok = HypeSignal("RELIANCE", textOf("d", "Revenue was ₹10 crore.", 1), at)
	assert.False(t, ok)
}

func TestClassifyTone(t *testing.T) {
	assert.Equal(t, model.TonePositive, ClassifyTone("Board approved bonus issue and a special dividend"))
	assert.Equal(t, model.ToneNegative, ClassifyTone("SEBI penalty imposed; CFO resigned amid fraud investigation"))
	assert.Equal(t, model.ToneNeutral, ClassifyTone("Intimation of board meeting"))
}
