package identifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/worker"
)

// LookupResult is what a registry knows about one identifier
type LookupResult struct {
	Match   model.RegistryMatch
	Records []model.RegistryRecord
}

// Registry resolves a normalized identifier to entity records.
// Transient failures wrap model.ErrRegistryUnavailable; errors wrapped with
// worker.Permanent are not retried.
type Registry interface {
	Name() string
	Lookup(ctx context.Context, kind model.IdentifierKind, value string) (LookupResult, error)
}

// Reloader is a registry backed by a snapshot that can be re-read
type Reloader interface {
	Reload(ctx context.Context) error
}

// resultFromRecords classifies matching records as found, ambiguous or not-found
func resultFromRecords(records []model.RegistryRecord) LookupResult {
	entities := make(map[string]bool)
	for _, r := range records {
		entities[r.EntityID] = true
	}
	switch {
	case len(records) == 0:
		return LookupResult{Match: model.MatchNotFound}
	case len(entities) > 1:
		return LookupResult{Match: model.MatchAmbiguous, Records: records}
	default:
		return LookupResult{Match: model.MatchFound, Records: records[:1]}
	}
}

// Router sends each identifier kind to an ordered list of registries.
// The first registry that finds (or disambiguates) the identifier wins.
type Router struct {
	routes map[model.IdentifierKind][]Registry
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{routes: make(map[model.IdentifierKind][]Registry)}
}

// Route appends registries for kind
func (r *Router) Route(kind model.IdentifierKind, regs ...Registry) *Router {
	r.routes[kind] = append(r.routes[kind], regs...)
	return r
}

func (r *Router) Name() string { return "router" }

// Lookup consults registries in order and returns the first found or
// ambiguous answer. Otherwise the first registry error is returned, so a
// not-found from one registry never hides another's outage and the caller
// sees the identifier as unresolved rather than unregistered.
func (r *Router) Lookup(ctx context.Context, kind model.IdentifierKind, value string) (LookupResult, error) {
	regs := r.routes[kind]
	if len(regs) == 0 {
		return LookupResult{}, worker.Permanent(fmt.Errorf("%w: no registry configured for %s", model.ErrRegistryUnavailable, kind))
	}

	var firstErr error
	for _, reg := range regs {
		res, err := reg.Lookup(ctx, kind, value)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", reg.Name(), err)
			}
			continue
		}
		if res.Match == model.MatchFound || res.Match == model.MatchAmbiguous {
			return res, nil
		}
	}
	if firstErr != nil {
		return LookupResult{}, firstErr
	}
	return LookupResult{Match: model.MatchNotFound}, nil
}

// Reload re-reads every routed registry that supports it
func (r *Router) Reload(ctx context.Context) error {
	var (
		seen []Registry
		errs []error
	)
	for _, regs := range r.routes {
		for _, reg := range regs {
			if containsRegistry(seen, reg) {
				continue
			}
			seen = append(seen, reg)
			if rl, ok := reg.(Reloader); ok {
				if err := rl.Reload(ctx); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func containsRegistry(list []Registry, reg Registry) bool {
	for _, r := range list {
		if r == reg {
			return true
		}
	}
	return false
}
