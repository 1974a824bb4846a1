package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credible/internal/crosscheck"
	"github.com/ppiankov/credible/internal/extract"
	"github.com/ppiankov/credible/internal/identifier"
	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/pipeline"
	"github.com/ppiankov/credible/internal/score"
	"github.com/ppiankov/credible/internal/vault"
	"github.com/ppiankov/credible/internal/worker"
)

const revenueText = "Reliance Industries Ltd (ISIN: INE002A01018) reported revenue from operations of ₹100 crore for FY2024."

type envelope struct {
	Status    string          `json:"status"`
	Error     string          `json:"error"`
	Fields    []string        `json:"fields"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := identifier.NewStaticRegistry("nse")
	require.NoError(t, reg.Add(model.RegistryRecord{EntityID: "RELIANCE", Name: "Reliance Industries Ltd", Kind: model.KindISIN, Value: "INE002A01018"}))
	return newTestServerFor(t, reg)
}

func newTestServerFor(t *testing.T, reg *identifier.StaticRegistry) *Server {
	t.Helper()
	once := worker.RetryPolicy{Attempts: 1}
	validator := identifier.NewValidator(identifier.NewRouter().Route(model.KindISIN, reg), identifier.WithRetry(once))

	refs := crosscheck.NewStaticSource("bse")
	require.NoError(t, refs.Add(model.ReferenceRecord{
		ID:       "ref-rev-fy24",
		EntityID: "RELIANCE",
		Metric:   model.MetricRevenue,
		Value:    decimal.RequireFromString("1000000000"),
		Unit:     "INR",
		AsOf:     time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		FiledAt:  time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
		Tier:     model.TierRegulator,
		URL:      "https://filings.example.test/reliance/fy24",
	}))

	cfg := model.DefaultConfig()
	v := vault.New(vault.NewMemoryBackend())
	p := pipeline.New(
		extract.NewExtractor(extract.WithStrategy(model.MediaText, extract.NewTextStrategy()), extract.WithRetryPolicy(once)),
		validator,
		extract.NewClaimParser(),
		crosscheck.NewChecker(cfg.CrossCheck, []crosscheck.ReferenceSource{refs}),
		score.NewAggregator(cfg.Scoring),
		pipeline.WithVault(v),
	)

	rt := &pipeline.Runtime{
		Pipeline:  p,
		Fetcher:   pipeline.NewFetcher(5*time.Second, "credible-test", 1<<20, "", "", pipeline.WithFetchRetry(once)),
		Validator: validator,
		Vault:     v,
	}
	return NewServer(model.APIConfig{AllowedOrigins: []string{"*"}, RequestTimeout: 10 * time.Second}, rt)
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func submitText(t *testing.T, s *Server, text string) (*httptest.ResponseRecorder, envelope) {
	return do(t, s, http.MethodPost, "/v1/documents", map[string]string{
		"content_base64": base64.StdEncoding.EncodeToString([]byte(text)),
		"content_type":   "text/plain",
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, env := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
	assert.NotEmpty(t, env.RequestID)
}

func TestSubmitDocument(t *testing.T) {
	s := newTestServer(t)
	rec, env := submitText(t, s, revenueText)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "RELIANCE", res.EntityID)
	assert.Equal(t, "api", res.Document.Source)
	require.Len(t, res.Verdicts, 1)
	assert.Equal(t, model.StatusConfirmed, res.Verdicts[0].Status)
	require.NotNil(t, res.Score)
	assert.Equal(t, 60, res.Score.Score)
	assert.Equal(t, 1, res.Score.Version)
}

func TestSubmitDocument_Rejections(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(revenueText))
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"neither content nor url", map[string]string{"entity_hint": "TCS"}, http.StatusBadRequest},
		{"content and url", map[string]string{"content_base64": encoded, "url": "https://example.test/a.pdf"}, http.StatusBadRequest},
		{"bad base64", map[string]string{"content_base64": "%%%"}, http.StatusBadRequest},
		{"unknown field", map[string]string{"content_base64": encoded, "colour": "red"}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
		{"bad media kind", map[string]string{"content_base64": encoded, "media_kind": "hologram"}, http.StatusBadRequest},
		{"unsupported content type", map[string]string{"content_base64": encoded, "content_type": "application/zip"}, http.StatusUnsupportedMediaType},
		{"no image strategy", map[string]string{"content_base64": encoded, "media_kind": "image"}, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec, env := do(t, s, http.MethodPost, "/v1/documents", tt.body)
			assert.Equal(t, tt.status, rec.Code, env.Error)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestSubmitDocument_ValidationFields(t *testing.T) {
	s := newTestServer(t)
	_, env := do(t, s, http.MethodPost, "/v1/documents", map[string]string{})
	require.NotEmpty(t, env.Fields)
	assert.Contains(t, env.Fields[0], "content_base64")
}

func TestSubmitDocument_FromURL(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, revenueText)
	}))
	defer upstream.Close()

	s := newTestServer(t)
	rec, env := do(t, s, http.MethodPost, "/v1/documents", map[string]string{"url": upstream.URL + "/notice.txt"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, pipeline.DocumentID([]byte(revenueText)), res.Document.ID)

	rec, _ = do(t, s, http.MethodPost, "/v1/documents", map[string]string{"url": upstream.URL + "/missing"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestScores(t *testing.T) {
	s := newTestServer(t)

	rec, _ := do(t, s, http.MethodGet, "/v1/scores/RELIANCE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, _ = submitText(t, s, revenueText)
	_, _ = submitText(t, s, "Reliance reported revenue from operations of ₹150 crore for FY2024. ISIN: INE002A01018")

	rec, env := do(t, s, http.MethodGet, "/v1/scores/reliance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest model.CredibilityScore
	require.NoError(t, json.Unmarshal(env.Data, &latest))
	assert.Equal(t, 2, latest.Version)
	assert.NotEmpty(t, latest.Hash)

	rec, env = do(t, s, http.MethodGet, "/v1/scores/RELIANCE?version=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var first model.CredibilityScore
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.Equal(t, 1, first.Version)
	assert.Greater(t, first.Score, latest.Score)

	rec, _ = do(t, s, http.MethodGet, "/v1/scores/RELIANCE?version=9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, s, http.MethodGet, "/v1/scores/RELIANCE?version=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/v1/scores/RELIANCE/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []model.CredibilityScore
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)

	rec, _ = do(t, s, http.MethodGet, "/v1/scores/NOBODY/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateIdentifier(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/v1/identifiers/validate", map[string]string{"kind": "isin", "value": "INE002A01018"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var id model.Identifier
	require.NoError(t, json.Unmarshal(env.Data, &id))
	assert.True(t, id.Valid)
	assert.Equal(t, model.MatchFound, id.RegistryMatch)

	rec, env = do(t, s, http.MethodPost, "/v1/identifiers/validate", map[string]string{"kind": "ISIN", "value": "INE002A01019"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &id))
	assert.False(t, id.Valid)
	assert.Equal(t, model.MatchSkipped, id.RegistryMatch)

	rec, _ = do(t, s, http.MethodPost, "/v1/identifiers/validate", map[string]string{"kind": "CUSIP", "value": "037833100"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/v1/identifiers/validate", map[string]string{"kind": "ISIN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScores_EntityIDs(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/v1/documents", map[string]string{
		"content_base64": base64.StdEncoding.EncodeToString([]byte(revenueText)),
		"content_type":   "text/plain",
		"entity_hint":    "Reliance Industries",
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "RELIANCE_INDUSTRIES", res.EntityID)

	rec, _ = do(t, s, http.MethodGet, "/v1/scores/reliance%20industries", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, s, http.MethodPost, "/v1/documents", map[string]string{
		"content_base64": base64.StdEncoding.EncodeToString([]byte(revenueText)),
		"entity_hint":    "a/b",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotEmpty(t, env.Fields)
	assert.Equal(t, "entity_hint (entity)", env.Fields[0])

	rec, _ = do(t, s, http.MethodGet, "/v1/scores/..", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
	rec, _ = do(t, s, http.MethodGet, "/v1/scores/R%2FX/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshRegistry(t *testing.T) {
	reg := identifier.NewStaticRegistry("nse")
	s := newTestServerFor(t, reg)
	body := map[string]string{"kind": "ISIN", "value": "INE467B01029"}

	rec, env := do(t, s, http.MethodPost, "/v1/identifiers/validate", body)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var id model.Identifier
	require.NoError(t, json.Unmarshal(env.Data, &id))
	require.Equal(t, model.MatchNotFound, id.RegistryMatch)

	// the listing arrives after the negative answer was cached
	require.NoError(t, reg.Add(model.RegistryRecord{EntityID: "TCS", Name: "Tata Consultancy Services", Kind: model.KindISIN, Value: "INE467B01029"}))
	_, env = do(t, s, http.MethodPost, "/v1/identifiers/validate", body)
	require.NoError(t, json.Unmarshal(env.Data, &id))
	assert.Equal(t, model.MatchNotFound, id.RegistryMatch)

	rec, env = do(t, s, http.MethodPost, "/v1/registry/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	assert.JSONEq(t, `{"status":"refreshed"}`, string(env.Data))

	_, env = do(t, s, http.MethodPost, "/v1/identifiers/validate", body)
	require.NoError(t, json.Unmarshal(env.Data, &id))
	assert.Equal(t, model.MatchFound, id.RegistryMatch)
	require.NotNil(t, id.Record)
	assert.Equal(t, "TCS", id.Record.EntityID)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/documents", nil)
	req.Header.Set("Origin", "https://dashboard.example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("x: %w", model.ErrMalformedDocument), http.StatusBadRequest},
		{&validationError{fields: []string{"url (url)"}}, http.StatusBadRequest},
		{fmt.Errorf("x: %w", model.ErrInvalidEntityID), http.StatusBadRequest},
		{fmt.Errorf("x: %w", model.ErrUnsupportedMediaKind), http.StatusUnsupportedMediaType},
		{fmt.Errorf("x: %w", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", pipeline.ErrRobotsDisallowed), http.StatusForbidden},
		{fmt.Errorf("x: %w", vault.ErrTampered), http.StatusConflict},
		{fmt.Errorf("%w: %w", errUpstream, errors.New("dial tcp")), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}
