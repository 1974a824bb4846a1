package anomaly

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/credible/internal/model"
)

// SignalBook holds the latest signals per entity. Market scoring replaces an
// entity's market signals wholesale; document-derived signals are replaced
// per document, so verifying a document again does not stack its signals.
type SignalBook struct {
	mu      sync.RWMutex
	entries map[string]*bookEntry
}

type bookEntry struct {
	market    []model.AnomalySignal
	marketAt  time.Time
	documents map[string][]model.AnomalySignal
}

// NewSignalBook creates an empty book
func NewSignalBook() *SignalBook {
	return &SignalBook{entries: make(map[string]*bookEntry)}
}

func (b *SignalBook) entry(entityID string) *bookEntry {
	key := strings.ToUpper(entityID)
	e, ok := b.entries[key]
	if !ok {
		e = &bookEntry{documents: make(map[string][]model.AnomalySignal)}
		b.entries[key] = e
	}
	return e
}

// Publish replaces the market signals of entityID, scored at time at. It
// reports whether the signals differ from the previous ones.
func (b *SignalBook) Publish(entityID string, signals []model.AnomalySignal, at time.Time) bool {
	cp := make([]model.AnomalySignal, len(signals))
	copy(cp, signals)

	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(entityID)
	changed := !slices.EqualFunc(e.market, cp, sameSignal)
	e.market = cp
	e.marketAt = at
	return changed
}

// AddDocument replaces the signals derived from documentID. An empty list
// clears them.
func (b *SignalBook) AddDocument(entityID, documentID string, signals ...model.AnomalySignal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(entityID)
	if len(signals) == 0 {
		delete(e.documents, documentID)
		return
	}
	e.documents[documentID] = append([]model.AnomalySignal(nil), signals...)
}

// Snapshot returns all signals for entityID ordered by time then kind, and
// when market data was last scored (zero if never)
func (b *SignalBook) Snapshot(entityID string) ([]model.AnomalySignal, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[strings.ToUpper(entityID)]
	if !ok {
		return nil, time.Time{}
	}

	docs := make([]string, 0, len(e.documents))
	for id := range e.documents {
		docs = append(docs, id)
	}
	sort.Strings(docs)

	out := make([]model.AnomalySignal, 0, len(e.market)+len(docs))
	out = append(out, e.market...)
	for _, id := range docs {
		out = append(out, e.documents[id]...)
	}
	sortSignals(out)
	return out, e.marketAt
}

// Entities lists entities with an entry in the book, sorted
func (b *SignalBook) Entities() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.entries))
	for k := range b.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sameSignal(a, b model.AnomalySignal) bool {
	return a.Kind == b.Kind &&
		a.At.Equal(b.At) &&
		a.Magnitude == b.Magnitude &&
		a.Confidence == b.Confidence &&
		strings.EqualFold(a.EntityID, b.EntityID)
}
