package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/util"
	"github.com/ppiankov/credible/internal/worker"
)

var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ppiankov/credible/document"))

// ErrRobotsDisallowed is returned when robots.txt forbids fetching a URL
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// DocumentID derives a stable id from document content, so resubmitting the
// same bytes maps to the same vault records
func DocumentID(content []byte) string {
	return uuid.NewSHA1(documentNamespace, content).String()
}

// Fetcher loads documents from local files and URLs
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *util.RobotsChecker
	limiter    *worker.Limiter
	policy     worker.RetryPolicy
	now        func() time.Time
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithRobots checks robots.txt before every URL fetch
func WithRobots(r *util.RobotsChecker) FetcherOption {
	return func(f *Fetcher) { f.robots = r }
}

// WithLimiter paces fetches per host
func WithLimiter(l *worker.Limiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = l }
}

// WithFetchRetry sets the retry policy for URL fetches
func WithFetchRetry(p worker.RetryPolicy) FetcherOption {
	return func(f *Fetcher) { f.policy = p }
}

// NewFetcher creates a Fetcher. Proxies fall back to the environment.
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64, httpProxy, httpsProxy string, opts ...FetcherOption) *Fetcher {
	client := util.NewHTTPClient(timeout, httpProxy, httpsProxy)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return fmt.Errorf("stopped after 3 redirects")
		}
		return nil
	}
	f := &Fetcher{
		httpClient: client,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
		policy:     worker.RetryPolicy{Attempts: 3, BaseDelay: time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load reads src, which is either an http(s) URL or a file path
func (f *Fetcher) Load(ctx context.Context, src, entityHint string) (model.Document, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return f.Fetch(ctx, src, entityHint)
	}
	return LoadFile(src, entityHint, f.maxBytes)
}

// LoadFile reads a document from disk, inferring its media kind from the
// file extension
func LoadFile(path, entityHint string, maxBytes int64) (model.Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return model.Document{}, fmt.Errorf("open document: %w", err)
	}
	defer func() { _ = file.Close() }()

	var r io.Reader = file
	if maxBytes > 0 {
		r = io.LimitReader(file, maxBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return model.Document{}, fmt.Errorf("read document: %w", err)
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return model.Document{}, fmt.Errorf("%w: %s exceeds %d bytes", model.ErrMalformedDocument, path, maxBytes)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	kind, err := MediaKindFor(contentType)
	if err != nil {
		return model.Document{}, err
	}
	info, err := file.Stat()
	received := time.Now().UTC()
	if err == nil {
		received = info.ModTime().UTC()
	}
	return model.Document{
		ID:          DocumentID(content),
		MediaKind:   kind,
		ContentType: contentType,
		Content:     content,
		Source:      "file:" + filepath.Base(path),
		EntityHint:  entityHint,
		ReceivedAt:  received,
	}, nil
}

// MediaKindFor maps a content type to a media kind. Unknown and empty
// types are treated as text and sniffed during extraction.
func MediaKindFor(contentType string) (model.MediaKind, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return model.MediaText, nil
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return model.MediaImage, nil
	case strings.HasPrefix(mt, "audio/"):
		return model.MediaAudio, nil
	case strings.HasPrefix(mt, "video/"):
		return model.MediaVideo, nil
	case strings.HasPrefix(mt, "text/"), mt == "application/pdf", mt == "application/xhtml+xml", mt == "application/octet-stream":
		return model.MediaText, nil
	default:
		return "", fmt.Errorf("%w: %s", model.ErrUnsupportedMediaKind, mt)
	}
}

// Fetch downloads rawURL as a document. Transient failures (network errors,
// 429 and 5xx) are retried; other statuses fail immediately. Fetches wait on
// the host's rate limit and any robots.txt crawl-delay.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, entityHint string) (model.Document, error) {
	var delay time.Duration
	if f.robots != nil {
		allowed, d, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return model.Document{}, err
		}
		if !allowed {
			return model.Document{}, fmt.Errorf("%s: %w", rawURL, ErrRobotsDisallowed)
		}
		delay = d
	}
	if err := f.pace(ctx, rawURL, delay); err != nil {
		return model.Document{}, err
	}

	var doc model.Document
	_, err := worker.Retry(ctx, f.policy, func(ctx context.Context) error {
		var ferr error
		doc, ferr = f.fetchOnce(ctx, rawURL)
		return ferr
	})
	if err != nil {
		return model.Document{}, err
	}
	doc.EntityHint = entityHint
	return doc, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (model.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return model.Document{}, worker.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/pdf,text/html,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return model.Document{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if !isRetryableStatus(resp.StatusCode) {
			return model.Document{}, worker.Permanent(err)
		}
		return model.Document{}, err
	}

	var r io.Reader = resp.Body
	if f.maxBytes > 0 {
		r = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return model.Document{}, worker.Permanent(fmt.Errorf("read body: %w", err))
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return model.Document{}, worker.Permanent(fmt.Errorf("%w: response exceeds %d bytes", model.ErrMalformedDocument, f.maxBytes))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(resp.Request.URL.Path)))
	}
	kind, err := MediaKindFor(contentType)
	if err != nil {
		return model.Document{}, worker.Permanent(err)
	}
	return model.Document{
		ID:          DocumentID(body),
		MediaKind:   kind,
		ContentType: contentType,
		Content:     body,
		Source:      sourceLabel(resp.Request.URL),
		ReceivedAt:  f.now().UTC(),
	}, nil
}

func (f *Fetcher) pace(ctx context.Context, rawURL string, delay time.Duration) error {
	if f.limiter != nil {
		return f.limiter.WaitURLWithDelay(ctx, rawURL, delay)
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func sourceLabel(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.Path
}
