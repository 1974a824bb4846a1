package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/credible/internal/model"
)

// Phrases typical of stock-tip promotions. Each distinct phrase adds
// hypePoints to the hype score, capped at 100.
var hypePhrases = []struct {
	name string
	re   *regexp.Regexp
}{
	{"sure shot", regexp.MustCompile(`(?i)\bsure[\s-]*shot\b`)},
	{"guaranteed", regexp.MustCompile(`(?i)\bguaranteed\b`)},
	{"x returns", regexp.MustCompile(`(?i)\b\d*\s*x\s*returns?\b`)},
	{"multibagger", regexp.MustCompile(`(?i)\bmulti[\s-]*bagger\b`)},
	{"inside info", regexp.MustCompile(`(?i)\binsider?\s+(?:info|information|news|tip)\b`)},
	{"firm allotment", regexp.MustCompile(`(?i)\bfirm\s+allotment\b`)},
	{"pre-ipo", regexp.MustCompile(`(?i)\bpre[\s-]*ipo\b`)},
	{"pump", regexp.MustCompile(`(?i)\bpump(?:ing|ed)?\b`)},
	{"price target", regexp.MustCompile(`(?i)\btarget\s*(?:of\s*)?(?:₹|rs\.?\s*)?\d+`)},
	{"100% return", regexp.MustCompile(`(?i)\b100\s*%\s*returns?\b`)},
	{"assured", regexp.MustCompile(`(?i)\bassured\b`)},
	{"buy now", regexp.MustCompile(`(?i)\bbuy\s+(?:now|immediately|before)\b`)},
	{"scam", regexp.MustCompile(`(?i)\bscam\b`)},
	{"fake news", regexp.MustCompile(`(?i)\bfake\s+news\b`)},
	{"sell-off rumour", regexp.MustCompile(`(?i)\bsell[\s-]*off\s+rumou?rs?\b`)},
}

const hypePoints = 10

// HypeFinding is one matched promotional phrase
type HypeFinding struct {
	Phrase string     `json:"phrase"`
	Span   model.Span `json:"span"`
}

// HypeReport summarizes promotional language in a text
type HypeReport struct {
	Score    int           `json:"score"` // 0-100
	Findings []HypeFinding `json:"findings"`
}

// DetectHype scores promotional language
func DetectHype(text string) HypeReport {
	var r HypeReport
	for _, p := range hypePhrases {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		r.Findings = append(r.Findings, HypeFinding{Phrase: p.name, Span: model.Span{Start: loc[0], End: loc[1]}})
		r.Score += hypePoints
	}
	if r.Score > 100 {
		r.Score = 100
	}
	return r
}

// HypeSignal converts hype findings into an anomaly signal for entityID.
// It returns false when the text carries no promotional language.
func HypeSignal(entityID string, text model.ExtractedText, at time.Time) (model.AnomalySignal, bool) {
	r := DetectHype(text.Text)
	if len(r.Findings) == 0 {
		return model.AnomalySignal{}, false
	}

	phrases := make([]string, len(r.Findings))
	conf := 1.0
	for i, f := range r.Findings {
		phrases[i] = f.Phrase
		if c := text.ConfidenceAt(f.Span); c < conf {
			conf = c
		}
	}
	return model.AnomalySignal{
		EntityID:   entityID,
		Window:     model.Window{Start: at, End: at},
		At:         at,
		Kind:       model.SignalHypeLanguage,
		Magnitude:  float64(len(r.Findings)),
		Confidence: conf,
		DocumentID: text.DocumentID,
		Detail: map[string]interface{}{
			"hype_score": r.Score,
			"phrases":    strings.Join(phrases, ", "),
		},
	}, true
}

var (
	positiveTone = regexp.MustCompile(`(?i)\b(buy|upgraded?|approved|approval|acquisition|acquires?|results? beat|beats? estimates|bonus|dividend|record (?:high|profit|revenue))\b`)
	negativeTone = regexp.MustCompile(`(?i)\b(sell|downgraded?|default(?:ed|s)?|loss(?:es)?|penalty|penalised|penalized|delay(?:ed|s)?|fraud|resign(?:s|ed|ation)?|investigation)\b`)
)

// ClassifyTone labels an announcement positive, negative or neutral by
// counting directional keywords
func ClassifyTone(text string) model.Tone {
	pos := len(positiveTone.FindAllStringIndex(text, -1))
	neg := len(negativeTone.FindAllStringIndex(text, -1))
	switch {
	case pos > neg:
		return model.TonePositive
	case neg > pos:
		return model.ToneNegative
	default:
		return model.ToneNeutral
	}
}
