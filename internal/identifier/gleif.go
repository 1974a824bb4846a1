package identifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/util"
	"github.com/ppiankov/credible/internal/worker"
)

// GLEIFRegistry resolves LEIs against the GLEIF public API
type GLEIFRegistry struct {
	baseURL    string
	httpClient *http.Client
	limiter    *worker.Limiter
	robots     *util.RobotsChecker
	userAgent  string
}

// GLEIFOptions configures a GLEIFRegistry
type GLEIFOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *worker.Limiter
	Robots     *util.RobotsChecker // nil disables robots.txt checks
	UserAgent  string
}

// NewGLEIFRegistry creates a GLEIF client
func NewGLEIFRegistry(opt GLEIFOptions) *GLEIFRegistry {
	if opt.BaseURL == "" {
		opt.BaseURL = "https://api.gleif.org/api/v1"
	}
	if opt.HTTPClient == nil {
		opt.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GLEIFRegistry{
		baseURL:    strings.TrimRight(opt.BaseURL, "/"),
		httpClient: opt.HTTPClient,
		limiter:    opt.Limiter,
		robots:     opt.Robots,
		userAgent:  opt.UserAgent,
	}
}

func (g *GLEIFRegistry) Name() string { return "gleif" }

type gleifResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			LEI    string `json:"lei"`
			Entity struct {
				LegalName struct {
					Name string `json:"name"`
				} `json:"legalName"`
				Status       string `json:"status"`
				Jurisdiction string `json:"jurisdiction"`
			} `json:"entity"`
			Registration struct {
				Status          string `json:"status"`
				LastUpdateDate  string `json:"lastUpdateDate"`
				ManagingLOU     string `json:"managingLou"`
				NextRenewalDate string `json:"nextRenewalDate"`
			} `json:"registration"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup fetches /lei-records/{lei}. 404 is a definite not-found; 429 and
// 5xx are transient.
func (g *GLEIFRegistry) Lookup(ctx context.Context, kind model.IdentifierKind, value string) (LookupResult, error) {
	if kind != model.KindLEI {
		return LookupResult{}, worker.Permanent(fmt.Errorf("gleif resolves LEIs only, got %s", kind))
	}

	endpoint := g.baseURL + "/lei-records/" + url.PathEscape(value)

	if g.robots != nil && !g.robots.IsAllowed(ctx, endpoint) {
		return LookupResult{}, worker.Permanent(fmt.Errorf("%w: %s disallowed by robots.txt", model.ErrRegistryUnavailable, endpoint))
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, g.Name()); err != nil {
			return LookupResult{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return LookupResult{}, worker.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return LookupResult{}, fmt.Errorf("%w: %v", model.ErrRegistryUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return LookupResult{Match: model.MatchNotFound}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return LookupResult{}, fmt.Errorf("%w: gleif status %d", model.ErrRegistryUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return LookupResult{}, worker.Permanent(fmt.Errorf("%w: gleif status %d", model.ErrRegistryUnavailable, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return LookupResult{}, fmt.Errorf("%w: read body: %v", model.ErrRegistryUnavailable, err)
	}

	var parsed gleifResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return LookupResult{}, worker.Permanent(fmt.Errorf("decode gleif record: %w", err))
	}

	attrs := parsed.Data.Attributes
	lei := attrs.LEI
	if lei == "" {
		lei = parsed.Data.ID
	}
	if lei == "" {
		return LookupResult{Match: model.MatchNotFound}, nil
	}

	rec := model.RegistryRecord{
		EntityID: lei,
		Name:     attrs.Entity.LegalName.Name,
		Kind:     model.KindLEI,
		Value:    lei,
		Status:   attrs.Registration.Status,
		Registry: g.Name(),
		Extra: map[string]string{
			"entity_status": attrs.Entity.Status,
			"jurisdiction":  attrs.Entity.Jurisdiction,
			"managing_lou":  attrs.Registration.ManagingLOU,
		},
	}
	if t, err := time.Parse(time.RFC3339, attrs.Registration.LastUpdateDate); err == nil {
		rec.UpdatedAt = &t
	}
	return LookupResult{Match: model.MatchFound, Records: []model.RegistryRecord{rec}}, nil
}
