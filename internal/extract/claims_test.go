package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credible/internal/model"
)

func textOf(docID, s string, conf float64) model.ExtractedText {
	return model.ExtractedText{
		DocumentID: docID,
		Text:       s,
		Segments:   []model.Segment{{Span: model.Span{Start: 0, End: len(s)}, Confidence: conf}},
		Method:     "text:plain",
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestClaimParser_RevenueAndProfit(t *testing.T) {
	text := textOf("doc-1", "Reliance Industries reported revenue from operations of ₹100.5 crore for FY2024. "+
		"Net profit rose 12% to Rs. 20 crore in Q1 FY25.", 0.9)

	claims := NewClaimParser().ParseAll(text, "RELIANCE")
	require.Len(t, claims, 2)

	rev := claims[0]
	assert.Equal(t, model.MetricRevenue, rev.Metric)
	assertDecimal(t, "1005000000", rev.Value)
	assert.Equal(t, "INR", rev.Unit)
	require.NotNil(t, rev.AsOf)
	assert.Equal(t, date(2024, time.March, 31), *rev.AsOf)
	assert.Equal(t, "FY2024", rev.Period)
	assert.Equal(t, "revenue from operations of ₹100.5 crore", rev.Text)
	assert.Equal(t, rev.Text, text.Text[rev.Span.Start:rev.Span.End])
	assert.Equal(t, "RELIANCE", rev.SubjectEntityID)
	assert.Equal(t, "doc-1", rev.DocumentID)
	assert.Equal(t, 0.9, rev.Confidence)
	assert.False(t, rev.LowConfidence)
	assert.Equal(t, "metric:revenue from operations", rev.Rule)
	assert.True(t, rev.Sentence.Contains(rev.Span))
	assert.True(t, strings.HasSuffix(text.Text[rev.Sentence.Start:rev.Sentence.End], "for FY2024."))

	np := claims[1]
	assert.Equal(t, model.MetricNetProfit, np.Metric)
	assertDecimal(t, "200000000", np.Value)
	require.NotNil(t, np.AsOf)
	assert.Equal(t, date(2024, time.June, 30), *np.AsOf)
	assert.False(t, np.Sentence.Overlaps(rev.Sentence))
}

func TestClaimParser_Units(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		metric model.Metric
		value  string
		unit   string
	}{
		{"indian grouping", "Order book stands at ₹5,000 crore.", model.MetricOrderValue, "50000000000", "INR"},
		{"lakh", "The board declared a dividend of Rs 50 lakh.", model.MetricDividend, "5000000", "INR"},
		{"usd billion", "Revenue of $2.5 billion was reported.", model.MetricRevenue, "2500000000", "USD"},
		{"million no currency", "EBITDA came in at 340 mn.", model.MetricEBITDA, "340000000", "INR"},
		{"eps", "EPS of ₹12.50 for the year.", model.MetricEPS, "12.50", "INR"},
		{"stake percent", "Promoter stake of 50.3% remains unchanged.", model.MetricStake, "50.3", "%"},
		{"orders worth", "The company won orders worth INR 250 Cr. from NHAI.", model.MetricOrderValue, "2500000000", "INR"},
		{"crores plural", "Total income was Rs 1,234.56 crores.", model.MetricTotalIncome, "12345600000", "INR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := NewClaimParser().ParseAll(textOf("d", tt.text, 1), "E")
			require.Len(t, claims, 1)
			assert.Equal(t, tt.metric, claims[0].Metric)
			assertDecimal(t, tt.value, claims[0].Value)
			assert.Equal(t, tt.unit, claims[0].Unit)
		})
	}
}

func TestClaimParser_IgnoresBareNumbers(t *testing.T) {
	text := textOf("d", "Revenue grew in 2024 across 300 stores. Debt reduction is a priority for FY25.", 1)
	assert.Empty(t, NewClaimParser().ParseAll(text, "E"))
}

func TestClaimParser_Periods(t *testing.T) {
	tests := []struct {
		text string
		want time.Time
	}{
		{"Revenue of ₹10 crore in FY24.", date(2024, time.March, 31)},
		{"Revenue of ₹10 crore in FY2023-24.", date(2024, time.March, 31)},
		{"Revenue of ₹10 crore in Q3 FY25.", date(2024, time.December, 31)},
		{"Revenue of ₹10 crore in H1 FY25.", date(2024, time.September, 30)},
		{"Revenue of ₹10 crore for the quarter ended 30th June 2024.", date(2024, time.June, 30)},
		{"Revenue of ₹10 crore for the year ended March 31, 2024.", date(2024, time.March, 31)},
	}
	for _, tt := range tests {
		claims := NewClaimParser().ParseAll(textOf("d", tt.text, 1), "E")
		require.Len(t, claims, 1, tt.text)
		require.NotNil(t, claims[0].AsOf, tt.text)
		assert.Equal(t, tt.want, *claims[0].AsOf, tt.text)
	}

	undated := NewClaimParser().ParseAll(textOf("d", "Net debt is ₹40 crore.", 1), "E")
	require.Len(t, undated, 1)
	assert.Nil(t, undated[0].AsOf)
}

func TestClaimParser_FiscalYearEndConfigurable(t *testing.T) {
	p := NewClaimParser(WithFiscalYearEnd(time.December))

	claims := p.ParseAll(textOf("d", "Revenue of $3 billion in FY2024. Revenue of $1 billion in Q1 FY2024.", 1), "E")
	require.Len(t, claims, 2)
	assert.Equal(t, date(2024, time.December, 31), *claims[0].AsOf)
	assert.Equal(t, date(2024, time.March, 31), *claims[1].AsOf)
}

func TestClaimParser_LowConfidenceStillEmitted(t *testing.T) {
	s := "Revenue was ₹10 crore. Debt was ₹5 crore."
	split := strings.Index(s, " Debt")
	text := model.ExtractedText{
		DocumentID: "scan",
		Text:       s,
		Segments: []model.Segment{
			{Span: model.Span{Start: 0, End: split}, Confidence: 0.95},
			{Span: model.Span{Start: split, End: len(s)}, Confidence: 0.3},
		},
	}

	claims := NewClaimParser(WithLowConfidenceThreshold(0.6)).ParseAll(text, "E")
	require.Len(t, claims, 2)
	assert.False(t, claims[0].LowConfidence)
	assert.True(t, claims[1].LowConfidence)
	assert.Equal(t, 0.3, claims[1].Confidence)
	assert.Equal(t, model.MetricDebt, claims[1].Metric)
}

func TestClaimParser_LazyAndRestartable(t *testing.T) {
	text := textOf("d", "Revenue was ₹10 crore. Debt was ₹5 crore. Dividend of ₹2 per share.", 1)
	seq := NewClaimParser().Parse(text, "E")

	var first []model.Claim
	for c := range seq {
		first = append(first, c)
		break
	}
	require.Len(t, first, 1)
	assert.Equal(t, model.MetricRevenue, first[0].Metric)

	var all []model.Claim
	for c := range seq {
		all = append(all, c)
	}
	require.Len(t, all, 3)
	assert.Equal(t, first[0].ID, all[0].ID)
}

func TestClaimParser_DeterministicIDs(t *testing.T) {
	s := "Revenue was ₹10 crore."
	a := NewClaimParser().ParseAll(textOf("doc-a", s, 1), "E")
	b := NewClaimParser().ParseAll(textOf("doc-a", s, 1), "E")
	c := NewClaimParser().ParseAll(textOf("doc-b", s, 1), "E")

	require.Len(t, a, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
	assert.NotEqual(t, a[0].ID, c[0].ID)
}

func TestSentences(t *testing.T) {
	text := "Revenue was Rs. 10 crore. EPS was 1.5 rupees! Next line\nthird"
	var got []string
	for span := range sentences(text) {
		got = append(got, text[span.Start:span.End])
	}
	assert.Equal(t, []string{"Revenue was Rs. 10 crore.", "EPS was 1.5 rupees!", "Next line", "third"}, got)
}
