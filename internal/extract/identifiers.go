package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ppiankov/credible/internal/model"
)

// SEBI numbers look like ISINs, so they are only taken when labelled
var (
	sebiMention = regexp.MustCompile(`(?i:\b(?:SEBI|REGN?|REGISTRATION)\b(?:\s*(?:REGISTRATION|REGN?|NO|NUMBER|NUM)\b\.?)*)\s*[:#]?[\s\-]*([0-9A-Z][0-9A-Z\-]{3,19})`)
	cinMention  = regexp.MustCompile(`\b[LU][0-9]{5}[A-Z]{2}[0-9]{4}[A-Z]{3}[0-9]{6}\b`)
	leiMention  = regexp.MustCompile(`\b[A-Z0-9]{18}[0-9]{2}\b`)
	isinMention = regexp.MustCompile(`\b[A-Z]{2}[A-Z0-9]{9}[0-9]\b`)
)

// FindIdentifiers locates identifier-shaped strings in text, ordered by
// position. Mentions are unvalidated; overlapping matches keep the most
// specific kind (SEBI, then CIN, LEI, ISIN).
func FindIdentifiers(text string) []model.IdentifierMention {
	var out []model.IdentifierMention
	taken := func(span model.Span) bool {
		for _, m := range out {
			if m.Span.Overlaps(span) {
				return true
			}
		}
		return false
	}

	for _, m := range sebiMention.FindAllStringSubmatchIndex(text, -1) {
		raw := text[m[2]:m[3]]
		if !strings.ContainsAny(raw, "0123456789") {
			continue
		}
		out = append(out, model.IdentifierMention{Kind: model.KindSEBI, Raw: raw, Span: model.Span{Start: m[2], End: m[3]}})
	}

	add := func(kind model.IdentifierKind, re *regexp.Regexp, needLetter bool) {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			span := model.Span{Start: loc[0], End: loc[1]}
			raw := text[loc[0]:loc[1]]
			if needLetter && strings.IndexFunc(raw, func(r rune) bool { return r >= 'A' && r <= 'Z' }) < 0 {
				continue
			}
			if kind == model.KindISIN && !strings.ContainsAny(raw[2:], "0123456789") {
				continue
			}
			if taken(span) {
				continue
			}
			out = append(out, model.IdentifierMention{Kind: kind, Raw: raw, Span: span})
		}
	}
	add(model.KindCIN, cinMention, false)
	add(model.KindLEI, leiMention, true)
	add(model.KindISIN, isinMention, false)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out
}
