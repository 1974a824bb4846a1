// Package extract turns submitted documents into normalized text with
// per-segment confidence, and parses claims, identifiers and promotional
// language out of that text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/credible/internal/cache"
	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/worker"
)

// Strategy extracts text from one family of media
type Strategy interface {
	Name() string
	Extract(ctx context.Context, doc model.Document) (model.ExtractedText, error)
}

// Extractor dispatches documents to the strategy registered for their media kind
type Extractor struct {
	strategies map[model.MediaKind]Strategy
	policy     worker.RetryPolicy
	maxBytes   int64
	cache      *cache.Typed[model.ExtractedText]
	cacheTTL   time.Duration
	log        *logging.Logger
}

// ExtractorOption configures an Extractor
type ExtractorOption func(*Extractor)

// WithStrategy registers s for kind, replacing any previous one
func WithStrategy(kind model.MediaKind, s Strategy) ExtractorOption {
	return func(e *Extractor) { e.strategies[kind] = s }
}

// WithRetryPolicy bounds each strategy call
func WithRetryPolicy(p worker.RetryPolicy) ExtractorOption {
	return func(e *Extractor) { e.policy = p }
}

// WithMaxBytes rejects larger documents as malformed
func WithMaxBytes(n int64) ExtractorOption {
	return func(e *Extractor) { e.maxBytes = n }
}

// WithResultCache memoizes successful extractions keyed by content hash
func WithResultCache(c cache.Cache, ttl time.Duration) ExtractorOption {
	return func(e *Extractor) {
		e.cache = cache.NewTyped[model.ExtractedText](c)
		e.cacheTTL = ttl
	}
}

// WithExtractorLogger sets the logger
func WithExtractorLogger(l *logging.Logger) ExtractorOption {
	return func(e *Extractor) { e.log = l }
}

// NewExtractor creates an extractor. Text documents are handled by default;
// image, audio and video need a provider-backed strategy.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		strategies: map[model.MediaKind]Strategy{
			model.MediaText: NewTextStrategy(),
		},
		policy:   worker.RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond, Timeout: 30 * time.Second},
		maxBytes: 50_000_000,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supports reports whether a strategy is registered for kind
func (e *Extractor) Supports(kind model.MediaKind) bool {
	_, ok := e.strategies[kind]
	return ok
}

// Extract returns the normalized text of doc.
//
// A malformed document or unregistered media kind fails immediately, as does
// content the strategy finds malformed. When the strategy keeps failing, the
// result is empty text with confidence 0, its Method ends in ":failed", and
// the error wraps model.ErrExtractionFailure.
func (e *Extractor) Extract(ctx context.Context, doc model.Document) (model.ExtractedText, error) {
	if err := doc.Validate(); err != nil {
		return model.ExtractedText{DocumentID: doc.ID}, err
	}
	if e.maxBytes > 0 && int64(len(doc.Content)) > e.maxBytes {
		return model.ExtractedText{DocumentID: doc.ID},
			fmt.Errorf("%w: %d bytes exceeds limit of %d", model.ErrMalformedDocument, len(doc.Content), e.maxBytes)
	}

	strategy, ok := e.strategies[doc.MediaKind]
	if !ok {
		return model.ExtractedText{DocumentID: doc.ID},
			fmt.Errorf("%w: %s", model.ErrUnsupportedMediaKind, doc.MediaKind)
	}

	key := cache.ContentKey("extract:"+strategy.Name()+":"+doc.ContentType, doc.Content)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			cached.DocumentID = doc.ID
			return cached, nil
		}
	}

	var out model.ExtractedText
	attempts, err := worker.Retry(ctx, e.policy, func(ctx context.Context) error {
		var serr error
		out, serr = strategy.Extract(ctx, doc)
		return serr
	})
	if err != nil {
		e.log.Warn().Err(err).
			Str("document", doc.ID).
			Str("strategy", strategy.Name()).
			Int("attempts", attempts).
			Msg("extraction failed")
		failed := model.ExtractedText{DocumentID: doc.ID, Method: strategy.Name() + ":failed"}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, model.ErrMalformedDocument) {
			return failed, err
		}
		return failed, fmt.Errorf("%w: %s: %w", model.ErrExtractionFailure, strategy.Name(), err)
	}

	out = finalize(doc.ID, out)
	e.log.Debug().
		Str("document", doc.ID).
		Str("method", out.Method).
		Int("chars", len(out.Text)).
		Int("segments", len(out.Segments)).
		Float64("confidence", out.MeanConfidence()).
		Msg("extracted text")

	if e.cache != nil {
		if err := e.cache.Set(key, out, e.cacheTTL); err != nil {
			e.log.Debug().Err(err).Msg("extraction cache write failed")
		}
	}
	return out, nil
}

// finalize sorts segments, clips them to the text and clamps confidences
func finalize(docID string, t model.ExtractedText) model.ExtractedText {
	t.DocumentID = docID
	segs := make([]model.Segment, 0, len(t.Segments))
	for _, s := range t.Segments {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End > len(t.Text) {
			s.End = len(t.Text)
		}
		if s.End <= s.Start {
			continue
		}
		s.Confidence = clamp01(s.Confidence)
		segs = append(segs, s)
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	t.Segments = segs
	return t
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// textBuilder accumulates text and segment boundaries in one pass
type textBuilder struct {
	buf  []byte
	segs []model.Segment
}

// add appends s as its own segment, separated from earlier text by sep
func (b *textBuilder) add(s string, confidence float64, sep string) {
	if s == "" {
		return
	}
	if len(b.buf) > 0 {
		b.buf = append(b.buf, sep...)
	}
	start := len(b.buf)
	b.buf = append(b.buf, s...)
	b.segs = append(b.segs, model.Segment{Span: model.Span{Start: start, End: len(b.buf)}, Confidence: confidence})
}

func (b *textBuilder) result(method string) model.ExtractedText {
	return model.ExtractedText{Text: string(b.buf), Segments: b.segs, Method: method}
}
