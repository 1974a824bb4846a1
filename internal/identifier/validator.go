package identifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/credible/internal/cache"
	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/worker"
)

// Validator checks identifiers and resolves them through a Registry.
// Definite registry answers are cached by (kind, value); concurrent lookups
// of the same identifier share one registry call.
type Validator struct {
	registry   Registry
	cache      *cache.Typed[model.Identifier]
	ttl        time.Duration
	policy     worker.RetryPolicy
	maxWorkers int
	group      singleflight.Group
	now        func() time.Time
	log        *logging.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithCache replaces the default in-memory cache
func WithCache(c cache.Cache) Option {
	return func(v *Validator) { v.cache = cache.NewTyped[model.Identifier](c) }
}

// WithTTL sets how long definite registry answers are kept
func WithTTL(ttl time.Duration) Option {
	return func(v *Validator) { v.ttl = ttl }
}

// WithRetry sets the per-lookup retry policy
func WithRetry(p worker.RetryPolicy) Option {
	return func(v *Validator) { v.policy = p }
}

// WithClock injects the time source for CheckedAt
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// WithMaxWorkers bounds concurrent lookups in ValidateAll
func WithMaxWorkers(n int) Option {
	return func(v *Validator) { v.maxWorkers = n }
}

// NewValidator creates a validator over registry
func NewValidator(registry Registry, opts ...Option) *Validator {
	v := &Validator{
		registry:   registry,
		ttl:        6 * time.Hour,
		policy:     worker.RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond, Timeout: 10 * time.Second},
		maxWorkers: 8,
		now:        time.Now,
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.cache == nil {
		v.cache = cache.NewTyped[model.Identifier](cache.NewMemoryCache(v.ttl, 10*time.Minute))
	}
	return v
}

func cacheKey(kind model.IdentifierKind, value string) string {
	return cache.Key("identifier", string(kind), value)
}

// Validate checks raw and, when the checksum passes, resolves it.
// Checksum failures never reach the registry. Registry outages yield
// RegistryMatch unknown and are not cached.
func (v *Validator) Validate(ctx context.Context, kind model.IdentifierKind, raw string) model.Identifier {
	value, err := Check(kind, raw)
	id := model.Identifier{Kind: kind, Raw: raw, Value: value, CheckedAt: v.now()}
	if err != nil {
		id.Reason = err.Error()
		id.RegistryMatch = model.MatchSkipped
		return id
	}
	id.Valid = true

	key := cacheKey(kind, value)
	if cached, ok := v.cache.Get(key); ok {
		cached.Raw = raw
		return cached
	}

	shared, _, _ := v.group.Do(key, func() (interface{}, error) {
		return v.resolve(ctx, id, key), nil
	})
	resolved := shared.(model.Identifier)
	resolved.Raw = raw
	return resolved
}

func (v *Validator) resolve(ctx context.Context, id model.Identifier, key string) model.Identifier {
	var res LookupResult
	attempts, err := worker.Retry(ctx, v.policy, func(ctx context.Context) error {
		var lerr error
		res, lerr = v.registry.Lookup(ctx, id.Kind, id.Value)
		return lerr
	})
	if err != nil {
		v.log.Warn().Err(err).
			Str("kind", string(id.Kind)).
			Str("value", id.Value).
			Int("attempts", attempts).
			Msg("registry lookup failed")
		id.RegistryMatch = model.MatchUnknown
		id.Reason = err.Error()
		return id
	}

	id.RegistryMatch = res.Match
	switch res.Match {
	case model.MatchFound:
		rec := res.Records[0]
		id.Record = &rec
	case model.MatchAmbiguous:
		id.Candidates = res.Records
		id.Reason = model.ErrAmbiguousMatch.Error()
	case model.MatchNotFound:
		id.Reason = "not present in registry"
	}

	if err := v.cache.Set(key, id, v.ttl); err != nil {
		v.log.Debug().Err(err).Str("key", key).Msg("identifier cache write failed")
	}
	return id
}

// ValidateAll validates mentions concurrently, one result per distinct
// (kind, normalized value), in first-seen order
func (v *Validator) ValidateAll(ctx context.Context, mentions []model.IdentifierMention) []model.Identifier {
	type job struct {
		kind model.IdentifierKind
		raw  string
	}
	var jobs []job
	seen := make(map[string]bool)
	for _, m := range mentions {
		k := string(m.Kind) + ":" + Normalize(m.Raw)
		if seen[k] {
			continue
		}
		seen[k] = true
		jobs = append(jobs, job{kind: m.Kind, raw: m.Raw})
	}

	results := make([]model.Identifier, len(jobs))
	sem := make(chan struct{}, max(1, v.maxWorkers))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(idx int, j job) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				value := Normalize(j.raw)
				results[idx] = model.Identifier{
					Kind: j.kind, Raw: j.raw, Value: value,
					RegistryMatch: model.MatchUnknown,
					Reason:        ctx.Err().Error(),
					CheckedAt:     v.now(),
				}
				if _, err := Check(j.kind, j.raw); err == nil {
					results[idx].Valid = true
				}
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()
			results[idx] = v.Validate(ctx, j.kind, j.raw)
		}(i, j)
	}
	wg.Wait()
	return results
}

// Invalidate drops the cached answer for one identifier
func (v *Validator) Invalidate(kind model.IdentifierKind, raw string) error {
	return v.cache.Delete(cacheKey(kind, Normalize(raw)))
}

// Refresh reloads snapshot registries and drops every cached answer, so the
// next lookups see the current registry contents
func (v *Validator) Refresh(ctx context.Context) error {
	var errs []error
	if rl, ok := v.registry.(Reloader); ok {
		if err := rl.Reload(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.cache.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clear identifier cache: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	v.log.Info().Str("registry", v.registry.Name()).Msg("identifier registries refreshed")
	return nil
}
