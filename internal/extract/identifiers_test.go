package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credible/internal/model"
)

func TestFindIdentifiers(t *testing.T) {
	text := "Reliance Industries Ltd (ISIN: INE002A01018, CIN L17110MH1973PLC019786, " +
		"LEI HWUPKR0MPOU8FGXBT394). Research analyst SEBI Registration No: INH000000123."

	got := FindIdentifiers(text)
	require.Len(t, got, 4)

	want := []struct {
		kind model.IdentifierKind
		raw  string
	}{
		{model.KindISIN, "INE002A01018"},
		{model.KindCIN, "L17110MH1973PLC019786"},
		{model.KindLEI, "HWUPKR0MPOU8FGXBT394"},
		{model.KindSEBI, "INH000000123"},
	}
	for i, w := range want {
		assert.Equal(t, w.kind, got[i].Kind)
		assert.Equal(t, w.raw, got[i].Raw)
		assert.Equal(t, w.raw, text[got[i].Span.Start:got[i].Span.End])
	}
}

func TestFindIdentifiers_UnlabelledSEBIShapeIsISIN(t *testing.T) {
	got := FindIdentifiers("Quoted code INH000000123 only")
	require.Len(t, got, 1)
	assert.Equal(t, model.KindISIN, got[0].Kind)
}

func TestFindIdentifiers_IgnoresPlainWords(t *testing.T) {
	assert.Empty(t, FindIdentifiers("ANNOUNCEMENT of QUARTERLY results, 12345678901234567890 shares"))
	assert.Empty(t, FindIdentifiers("Registration pending with SEBI"))
}
