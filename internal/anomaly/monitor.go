package anomaly

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
)

// Monitor periodically scores watched entities into a SignalBook, on its own
// schedule independent of document submissions
type Monitor struct {
	scorer     *Scorer
	book       *SignalBook
	interval   time.Duration
	windowDays int
	workers    int
	now        func() time.Time
	log        *logging.Logger
	onChange   func(ctx context.Context, entityID string)

	mu       sync.Mutex
	entities []string
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithMonitorClock sets the clock
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithMonitorLogger sets the logger
func WithMonitorLogger(l *logging.Logger) MonitorOption {
	return func(m *Monitor) { m.log = l }
}

// WithMonitorWorkers bounds concurrent entity scoring
func WithMonitorWorkers(n int) MonitorOption {
	return func(m *Monitor) { m.workers = n }
}

// WithOnChange calls fn after a scheduled pass changes an entity's signals
func WithOnChange(fn func(ctx context.Context, entityID string)) MonitorOption {
	return func(m *Monitor) { m.onChange = fn }
}

// NewMonitor creates a monitor for the entities in cfg.Watch
func NewMonitor(scorer *Scorer, book *SignalBook, cfg model.AnomalyConfig, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		scorer:     scorer,
		book:       book,
		interval:   cfg.Interval,
		windowDays: cfg.WindowDays,
		workers:    4,
		now:        time.Now,
		log:        logging.Nop(),
		entities:   append([]string(nil), cfg.Watch...),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch adds entities to the watch list
func (m *Monitor) Watch(entityIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range entityIDs {
		if !containsFold(m.entities, id) {
			m.entities = append(m.entities, id)
		}
	}
}

// watched lists the watch list followed by any other entity the book knows
func (m *Monitor) watched() []string {
	m.mu.Lock()
	out := append([]string(nil), m.entities...)
	m.mu.Unlock()
	for _, id := range m.book.Entities() {
		if !containsFold(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// RunOnce scores every watched entity once. Entities that fail keep their
// previous signals; their errors are joined in the result. Entities whose
// signals changed are passed to the OnChange hook afterwards.
func (m *Monitor) RunOnce(ctx context.Context) error {
	changed, err := m.score(ctx, m.watched())
	if m.onChange != nil && ctx.Err() == nil {
		for _, id := range changed {
			m.onChange(ctx, id)
		}
	}
	return err
}

// Refresh scores entityIDs now without calling the OnChange hook
func (m *Monitor) Refresh(ctx context.Context, entityIDs ...string) error {
	_, err := m.score(ctx, entityIDs)
	return err
}

func (m *Monitor) score(ctx context.Context, ids []string) ([]string, error) {
	now := m.now().UTC()
	window := model.Window{Start: now.AddDate(0, 0, -m.windowDays), End: now}

	var (
		mu      sync.Mutex
		errs    []error
		changed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, m.workers))
	for _, id := range ids {
		g.Go(func() error {
			signals, err := m.scorer.Score(gctx, id, window)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.log.Warn().Err(err).Str("entity", id).Msg("anomaly scoring failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
				return nil
			}
			if m.book.Publish(id, signals, now) {
				mu.Lock()
				changed = append(changed, id)
				mu.Unlock()
			}
			m.log.Debug().Str("entity", id).Int("signals", len(signals)).Msg("market scored")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(changed)
	return changed, errors.Join(errs...)
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(v, s) })
}

// Run scores immediately and then every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn().Err(err).Msg("anomaly monitor pass incomplete")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
