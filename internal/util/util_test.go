package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotsChecker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			atomic.AddInt32(&hits, 1)
			_, _ = w.Write([]byte("User-agent: Credible\nDisallow: /private\nCrawl-delay: 2\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := NewRobotsChecker("Credible/0.1 (+https://example.com)", srv.Client(), time.Hour)
	ctx := context.Background()

	allowed, delay, err := rc.CanFetch(ctx, srv.URL+"/api/v1/lei-records/X")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2*time.Second, delay)

	assert.False(t, rc.IsAllowed(ctx, srv.URL+"/private/data"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "robots.txt should be cached")

	rc.Clear()
	rc.IsAllowed(ctx, srv.URL+"/x")
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRobotsChecker_MissingAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rc := NewRobotsChecker("Credible/0.1", srv.Client(), time.Hour)
	assert.True(t, rc.IsAllowed(context.Background(), srv.URL+"/anything"))
}

func TestRobotsChecker_UnreachableAllows(t *testing.T) {
	rc := NewRobotsChecker("Credible/0.1", &http.Client{Timeout: 50 * time.Millisecond}, time.Hour)
	assert.True(t, rc.IsAllowed(context.Background(), "http://127.0.0.1:1/x"))
}

func TestNormalizeUserAgent(t *testing.T) {
	assert.Equal(t, "Credible", NormalizeUserAgent("Credible/0.1 (+https://github.com/ppiankov/credible)"))
	assert.Equal(t, "bot", NormalizeUserAgent("bot"))
	assert.Equal(t, "", NormalizeUserAgent(""))
}

func TestNewProxyFunc(t *testing.T) {
	fn := NewProxyFunc("http://proxy:8080", "http://secure-proxy:8443")

	req, _ := http.NewRequest(http.MethodGet, "https://api.gleif.org/", nil)
	u, err := fn(req)
	require.NoError(t, err)
	assert.Equal(t, "secure-proxy:8443", u.Host)

	req, _ = http.NewRequest(http.MethodGet, "http://example.com/", nil)
	u, err = fn(req)
	require.NoError(t, err)
	assert.Equal(t, "proxy:8080", u.Host)

	c := NewHTTPClient(time.Second, "", "")
	assert.Equal(t, time.Second, c.Timeout)
}
