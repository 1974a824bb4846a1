package identifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/worker"
)

const registryYAML = `registry: nse-master
records:
  - entity_id: RELIANCE
    name: Reliance Industries Ltd
    kind: ISIN
    value: INE002A01018
  - entity_id: RELIANCE
    name: Reliance Industries Ltd
    kind: CIN
    value: L17110MH1973PLC019786
  - entity_id: ACME-A
    name: Acme Holdings
    kind: ISIN
    value: INE467B01029
  - entity_id: ACME-B
    name: Acme Holdings (old listing)
    kind: ISIN
    value: ine467b01029
`

func loadFixtureRegistry(t *testing.T) *StaticRegistry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o644))
	reg, err := LoadStaticRegistry(path)
	require.NoError(t, err)
	return reg
}

func TestStaticRegistry_Lookup(t *testing.T) {
	reg := loadFixtureRegistry(t)
	ctx := context.Background()

	assert.Equal(t, "nse-master", reg.Name())
	assert.Equal(t, 4, reg.Len())

	res, err := reg.Lookup(ctx, model.KindISIN, "INE002A01018")
	require.NoError(t, err)
	assert.Equal(t, model.MatchFound, res.Match)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "RELIANCE", res.Records[0].EntityID)
	assert.Equal(t, "nse-master", res.Records[0].Registry)

	res, err = reg.Lookup(ctx, model.KindISIN, "INE467B01029")
	require.NoError(t, err)
	assert.Equal(t, model.MatchAmbiguous, res.Match)
	assert.Len(t, res.Records, 2)

	res, err = reg.Lookup(ctx, model.KindISIN, "US0378331005")
	require.NoError(t, err)
	assert.Equal(t, model.MatchNotFound, res.Match)
}

func TestStaticRegistry_RejectsBadRecords(t *testing.T) {
	reg := NewStaticRegistry("")
	assert.Equal(t, "static", reg.Name())
	assert.Error(t, reg.Add(model.RegistryRecord{Kind: "SSN", Value: "1", EntityID: "x"}))
	assert.Error(t, reg.Add(model.RegistryRecord{Kind: model.KindISIN, Value: "INE002A01018"}))

	_, err := LoadStaticRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type fakeRegistry struct {
	name   string
	calls  int32
	result LookupResult
	err    error
	errs   int32 // fail this many calls before succeeding
}

func (f *fakeRegistry) Name() string { return f.name }

func (f *fakeRegistry) Lookup(ctx context.Context, kind model.IdentifierKind, value string) (LookupResult, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.err != nil && (f.errs == 0 || n <= f.errs) {
		return LookupResult{}, f.err
	}
	return f.result, nil
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	found := LookupResult{Match: model.MatchFound, Records: []model.RegistryRecord{{EntityID: "E1"}}}

	t.Run("falls through not-found", func(t *testing.T) {
		a := &fakeRegistry{name: "a", result: LookupResult{Match: model.MatchNotFound}}
		b := &fakeRegistry{name: "b", result: found}
		res, err := NewRouter().Route(model.KindISIN, a, b).Lookup(ctx, model.KindISIN, "X")
		require.NoError(t, err)
		assert.Equal(t, model.MatchFound, res.Match)
	})

	t.Run("later answer beats earlier outage", func(t *testing.T) {
		a := &fakeRegistry{name: "a", err: model.ErrRegistryUnavailable}
		b := &fakeRegistry{name: "b", result: found}
		res, err := NewRouter().Route(model.KindISIN, a, b).Lookup(ctx, model.KindISIN, "X")
		require.NoError(t, err)
		assert.Equal(t, model.MatchFound, res.Match)
	})

	t.Run("outage without answer is an error", func(t *testing.T) {
		a := &fakeRegistry{name: "a", err: model.ErrRegistryUnavailable}
		b := &fakeRegistry{name: "b", result: LookupResult{Match: model.MatchNotFound}}
		_, err := NewRouter().Route(model.KindISIN, a, b).Lookup(ctx, model.KindISIN, "X")
		assert.ErrorIs(t, err, model.ErrRegistryUnavailable)
	})

	t.Run("not-found does not hide an outage", func(t *testing.T) {
		a := &fakeRegistry{name: "a", result: LookupResult{Match: model.MatchNotFound}}
		b := &fakeRegistry{name: "b", err: model.ErrRegistryUnavailable}
		_, err := NewRouter().Route(model.KindISIN, a, b).Lookup(ctx, model.KindISIN, "X")
		assert.ErrorIs(t, err, model.ErrRegistryUnavailable)
		assert.ErrorContains(t, err, "b: ")
	})

	t.Run("unrouted kind", func(t *testing.T) {
		_, err := NewRouter().Lookup(ctx, model.KindCIN, "X")
		assert.ErrorIs(t, err, model.ErrRegistryUnavailable)
	})
}

func TestRouter_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o644))
	static, err := LoadStaticRegistry(path)
	require.NoError(t, err)
	r := NewRouter().
		Route(model.KindISIN, static, &fakeRegistry{name: "f"}).
		Route(model.KindCIN, static)

	require.NoError(t, os.WriteFile(path, []byte("records:\n  - {entity_id: TCS, kind: ISIN, value: INE467B01029}\n"), 0o644))
	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, 1, static.Len())
	assert.Equal(t, "nse-master", static.Name(), "the registry keeps its name")

	require.NoError(t, os.Remove(path))
	assert.ErrorContains(t, r.Reload(context.Background()), "reload nse-master")
	assert.NoError(t, NewStaticRegistry("mem").Reload(context.Background()))
}

func TestGLEIFRegistry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/api/v1/lei-records/HWUPKR0MPOU8FGXBT394":
			assert.Equal(t, "application/vnd.api+json", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "application/vnd.api+json")
			fmt.Fprint(w, `{"data":{"id":"HWUPKR0MPOU8FGXBT394","attributes":{"lei":"HWUPKR0MPOU8FGXBT394",
				"entity":{"legalName":{"name":"Apple Inc."},"status":"ACTIVE","jurisdiction":"US-CA"},
				"registration":{"status":"ISSUED","lastUpdateDate":"2024-05-01T00:00:00Z","managingLou":"EVK05KS7XY1DEII3R011"}}}}`)
		case "/api/v1/lei-records/335800FVH4MOKZS9VH40":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewGLEIFRegistry(GLEIFOptions{
		BaseURL:    srv.URL + "/api/v1/",
		HTTPClient: srv.Client(),
		Limiter:    worker.NewLimiter(1000, 10),
		UserAgent:  "Credible/test",
	})
	ctx := context.Background()

	res, err := g.Lookup(ctx, model.KindLEI, "HWUPKR0MPOU8FGXBT394")
	require.NoError(t, err)
	require.Equal(t, model.MatchFound, res.Match)
	assert.Equal(t, "Apple Inc.", res.Records[0].Name)
	assert.Equal(t, "ISSUED", res.Records[0].Status)
	assert.Equal(t, "gleif", res.Records[0].Registry)
	require.NotNil(t, res.Records[0].UpdatedAt)

	res, err = g.Lookup(ctx, model.KindLEI, "529900T8BM49AURSDO55")
	require.NoError(t, err)
	assert.Equal(t, model.MatchNotFound, res.Match)

	_, err = g.Lookup(ctx, model.KindLEI, "335800FVH4MOKZS9VH40")
	assert.ErrorIs(t, err, model.ErrRegistryUnavailable)

	_, err = g.Lookup(ctx, model.KindISIN, "US0378331005")
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "non-LEI lookups must not reach the API")
}

func TestGLEIFRegistry_TransportError(t *testing.T) {
	g := NewGLEIFRegistry(GLEIFOptions{BaseURL: "http://127.0.0.1:1"})
	_, err := g.Lookup(context.Background(), model.KindLEI, "HWUPKR0MPOU8FGXBT394")
	assert.True(t, errors.Is(err, model.ErrRegistryUnavailable))
}
