package extract

import (
	"fmt"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ppiankov/credible/internal/model"
)

// claimNamespace scopes deterministic claim ids
var claimNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ppiankov/credible/claim"))

var metricPattern = regexp.MustCompile(`(?i)\b(revenue from operations|revenues?|turnover|net sales|total income|` +
	`profit after tax|net profit|net income|pat|ebitda|operating profit|earnings per share|eps|` +
	`orders? (?:worth|valued at|value)|order book|contract (?:worth|valued at)|` +
	`dividend|net debt|borrowings|debt|stake|shareholding)\b`)

var metricByKeyword = map[string]model.Metric{
	"revenue from operations": model.MetricRevenue,
	"revenue":                 model.MetricRevenue,
	"revenues":                model.MetricRevenue,
	"turnover":                model.MetricRevenue,
	"net sales":               model.MetricRevenue,
	"total income":            model.MetricTotalIncome,
	"profit after tax":        model.MetricNetProfit,
	"net profit":              model.MetricNetProfit,
	"net income":              model.MetricNetProfit,
	"pat":                     model.MetricNetProfit,
	"ebitda":                  model.MetricEBITDA,
	"operating profit":        model.MetricEBITDA,
	"earnings per share":      model.MetricEPS,
	"eps":                     model.MetricEPS,
	"order book":              model.MetricOrderValue,
	"dividend":                model.MetricDividend,
	"net debt":                model.MetricDebt,
	"borrowings":              model.MetricDebt,
	"debt":                    model.MetricDebt,
	"stake":                   model.MetricStake,
	"shareholding":            model.MetricStake,
}

var amountPattern = regexp.MustCompile(`(?i)(₹|rs\.?|inr|us\$|\$|usd)?\s?` +
	`(\d{1,3}(?:,\d{2,3})+(?:\.\d+)?|\d+(?:\.\d+)?)` +
	`(?:\s?(crores?|cr\b\.?|lakhs?|lacs?|millions?|mn\b|billions?|bn\b|thousand|k\b))?` +
	`(\s?%|\s?per ?cent\b)?`)

var (
	quarterPattern  = regexp.MustCompile(`(?i)\b(Q[1-4]|H[12])\s*(?:of\s+)?FY\s*'?(\d{4}|\d{2})\b`)
	fyRangePattern  = regexp.MustCompile(`(?i)\bFY\s*(\d{4})\s*[-–/]\s*(\d{4}|\d{2})\b`)
	fyPattern       = regexp.MustCompile(`(?i)\bFY\s*'?(\d{4}|\d{2})\b`)
	dayMonthPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)
	monthDayPattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
)

var monthByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var scaleFactors = map[string]decimal.Decimal{
	"crore":    decimal.New(1, 7),
	"cr":       decimal.New(1, 7),
	"lakh":     decimal.New(1, 5),
	"lac":      decimal.New(1, 5),
	"million":  decimal.New(1, 6),
	"mn":       decimal.New(1, 6),
	"billion":  decimal.New(1, 9),
	"bn":       decimal.New(1, 9),
	"thousand": decimal.New(1, 3),
	"k":        decimal.New(1, 3),
}

// Words ending in "." that do not end a sentence
var abbreviations = map[string]bool{
	"rs": true, "no": true, "approx": true, "vs": true, "ltd": true, "inc": true,
	"co": true, "mr": true, "ms": true, "dr": true, "pvt": true, "st": true,
}

// ClaimParser extracts quantitative claims from extracted text
type ClaimParser struct {
	fiscalYearEnd   time.Month
	lowConfidence   float64
	defaultCurrency string
}

// ClaimOption configures a ClaimParser
type ClaimOption func(*ClaimParser)

// WithFiscalYearEnd sets the month in which fiscal years end (March by default)
func WithFiscalYearEnd(m time.Month) ClaimOption {
	return func(p *ClaimParser) {
		if m >= time.January && m <= time.December {
			p.fiscalYearEnd = m
		}
	}
}

// WithLowConfidenceThreshold flags claims whose source text confidence is below t
func WithLowConfidenceThreshold(t float64) ClaimOption {
	return func(p *ClaimParser) { p.lowConfidence = t }
}

// WithDefaultCurrency sets the unit for scaled amounts written without a currency
func WithDefaultCurrency(code string) ClaimOption {
	return func(p *ClaimParser) { p.defaultCurrency = strings.ToUpper(code) }
}

// NewClaimParser creates a parser
func NewClaimParser(opts ...ClaimOption) *ClaimParser {
	p := &ClaimParser{fiscalYearEnd: time.March, lowConfidence: 0.6, defaultCurrency: "INR"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse lazily yields the claims in text, in source order. Each range over the
// returned sequence re-parses from the start. Claims from low-confidence text
// are still yielded, flagged LowConfidence.
func (p *ClaimParser) Parse(text model.ExtractedText, subject string) iter.Seq[model.Claim] {
	return func(yield func(model.Claim) bool) {
		for sent := range sentences(text.Text) {
			for _, c := range p.parseSentence(text, sent, subject) {
				if !yield(c) {
					return
				}
			}
		}
	}
}

// ParseAll collects every claim
func (p *ClaimParser) ParseAll(text model.ExtractedText, subject string) []model.Claim {
	var out []model.Claim
	for c := range p.Parse(text, subject) {
		out = append(out, c)
	}
	return out
}

func (p *ClaimParser) parseSentence(text model.ExtractedText, sent model.Span, subject string) []model.Claim {
	s := text.Text[sent.Start:sent.End]
	metrics := metricPattern.FindAllStringSubmatchIndex(s, -1)
	if len(metrics) == 0 {
		return nil
	}

	asOf, period := p.findPeriod(s)

	var claims []model.Claim
	for i, m := range metrics {
		keyword := strings.ToLower(s[m[2]:m[3]])
		metric, ok := metricByKeyword[keyword]
		if !ok {
			metric = model.MetricOrderValue // the "order(s)/contract worth" family
		}

		limit := len(s)
		if i+1 < len(metrics) {
			limit = metrics[i+1][0]
		}
		amt, ok := p.findAmount(s, m[1], limit, metric)
		if !ok {
			continue
		}

		span := model.Span{Start: sent.Start + m[0], End: sent.Start + amt.end}
		conf := text.ConfidenceAt(span)
		claims = append(claims, model.Claim{
			ID:              claimID(text.DocumentID, metric, span),
			DocumentID:      text.DocumentID,
			SubjectEntityID: subject,
			Metric:          metric,
			Value:           amt.value,
			Unit:            amt.unit,
			AsOf:            asOf,
			Period:          period,
			Span:            span,
			Sentence:        sent,
			Text:            text.Text[span.Start:span.End],
			Confidence:      conf,
			LowConfidence:   conf < p.lowConfidence,
			Rule:            "metric:" + keyword,
		})
	}
	return claims
}

type amount struct {
	value decimal.Decimal
	unit  string
	end   int
}

// findAmount returns the first amount in s[from:limit] that fits metric.
// Bare numbers (years, counts) are ignored, as are growth percentages for
// absolute metrics.
func (p *ClaimParser) findAmount(s string, from, limit int, metric model.Metric) (amount, bool) {
	region := s[from:limit]
	for _, m := range amountPattern.FindAllStringSubmatchIndex(region, -1) {
		start := m[0]
		if m[2] < 0 && start > 0 && isWordByte(region[m[4]-1]) {
			continue // digits glued to a word, e.g. FY24
		}

		currency := ""
		if m[2] >= 0 && (m[2] == 0 || !isWordByte(region[m[2]-1])) {
			currency = normalizeCurrency(region[m[2]:m[3]])
		}
		scale := ""
		if m[6] >= 0 {
			scale = normalizeScale(region[m[6]:m[7]])
		}
		percent := m[8] >= 0

		switch {
		case metric == model.MetricStake:
			if !percent {
				continue
			}
		case percent:
			continue
		case currency == "" && scale == "":
			continue
		}

		num, err := decimal.NewFromString(strings.ReplaceAll(region[m[4]:m[5]], ",", ""))
		if err != nil {
			continue
		}
		if f, ok := scaleFactors[scale]; ok {
			num = num.Mul(f)
		}

		unit := currency
		switch {
		case percent:
			unit = "%"
		case unit == "":
			unit = p.defaultCurrency
		}
		return amount{value: num, unit: unit, end: from + trimRightSpace(region, m[1])}, true
	}
	return amount{}, false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func trimRightSpace(s string, end int) int {
	for end > 0 && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return end
}

func normalizeCurrency(c string) string {
	switch strings.ToLower(strings.TrimSuffix(c, ".")) {
	case "₹", "rs", "inr":
		return "INR"
	case "$", "usd", "us$":
		return "USD"
	}
	return ""
}

func normalizeScale(s string) string {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	switch {
	case strings.HasPrefix(s, "crore"), s == "cr":
		return "crore"
	case strings.HasPrefix(s, "lakh"), strings.HasPrefix(s, "lac"):
		return "lakh"
	case strings.HasPrefix(s, "million"), s == "mn":
		return "million"
	case strings.HasPrefix(s, "billion"), s == "bn":
		return "billion"
	case s == "thousand", s == "k":
		return "thousand"
	}
	return ""
}

// findPeriod resolves the first period reference in s to its end date
func (p *ClaimParser) findPeriod(s string) (*time.Time, string) {
	if m := quarterPattern.FindStringSubmatch(s); m != nil {
		fy := fullYear(m[2])
		end := p.quarterEnd(fy, strings.ToUpper(m[1]))
		return &end, m[0]
	}
	if m := fyRangePattern.FindStringSubmatch(s); m != nil {
		end := p.fiscalYearEndDate(fullYear(m[2]))
		return &end, m[0]
	}
	if m := fyPattern.FindStringSubmatch(s); m != nil {
		end := p.fiscalYearEndDate(fullYear(m[1]))
		return &end, m[0]
	}
	if m := dayMonthPattern.FindStringSubmatch(s); m != nil {
		if t, ok := calendarDate(m[3], m[2], m[1]); ok {
			return &t, m[0]
		}
	}
	if m := monthDayPattern.FindStringSubmatch(s); m != nil {
		if t, ok := calendarDate(m[3], m[1], m[2]); ok {
			return &t, m[0]
		}
	}
	return nil, ""
}

func fullYear(y string) int {
	n, _ := strconv.Atoi(y)
	if len(y) == 2 {
		return 2000 + n
	}
	return n
}

// fiscalYearEndDate returns the last day of fiscal year fy (FY2024 ends in 2024)
func (p *ClaimParser) fiscalYearEndDate(fy int) time.Time {
	return lastDayOfMonth(fy, p.fiscalYearEnd)
}

// quarterEnd returns the last day of Qn/Hn of fiscal year fy
func (p *ClaimParser) quarterEnd(fy int, q string) time.Time {
	var n int
	switch q {
	case "Q1":
		n = 1
	case "Q2", "H1":
		n = 2
	case "Q3":
		n = 3
	default:
		n = 4
	}
	monthsBefore := (4 - n) * 3
	y, m := fy, int(p.fiscalYearEnd)-monthsBefore
	for m <= 0 {
		m += 12
		y--
	}
	return lastDayOfMonth(y, time.Month(m))
}

func lastDayOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}

func calendarDate(year, month, day string) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	d, _ := strconv.Atoi(day)
	mo, ok := monthByPrefix[strings.ToLower(month[:3])]
	if !ok || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	if t.Month() != mo {
		return time.Time{}, false
	}
	return t, true
}

func claimID(docID string, metric model.Metric, span model.Span) string {
	key := fmt.Sprintf("%s|%s|%d|%d", docID, metric, span.Start, span.End)
	return uuid.NewSHA1(claimNamespace, []byte(key)).String()
}

// sentences yields sentence spans. Lines always break; ".", "!" and "?" break
// when followed by whitespace, unless they close a known abbreviation or sit
// between digits.
func sentences(text string) iter.Seq[model.Span] {
	return func(yield func(model.Span) bool) {
		start := 0
		emit := func(end int) bool {
			s, e := start, end
			for s < e && isSpace(text[s]) {
				s++
			}
			for e > s && isSpace(text[e-1]) {
				e--
			}
			start = end
			if e > s {
				return yield(model.Span{Start: s, End: e})
			}
			return true
		}

		for i := 0; i < len(text); i++ {
			switch text[i] {
			case '\n':
				if !emit(i + 1) {
					return
				}
			case '.', '!', '?':
				if i+1 < len(text) && !isSpace(text[i+1]) {
					continue
				}
				if text[i] == '.' && abbreviations[strings.ToLower(lastWord(text[start:i]))] {
					continue
				}
				if !emit(i + 1) {
					return
				}
			}
		}
		emit(len(text))
	}
}

func lastWord(s string) string {
	i := len(s)
	for i > 0 && isWordByte(s[i-1]) {
		i--
	}
	return s[i:]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
