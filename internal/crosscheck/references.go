package crosscheck

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/credible/internal/model"
)

// ReferenceSource supplies independently filed values for one entity and metric
type ReferenceSource interface {
	Name() string
	References(ctx context.Context, entityID string, metric model.Metric) ([]model.ReferenceRecord, error)
}

func refKey(entityID string, metric model.Metric) string {
	return strings.ToUpper(entityID) + "|" + string(metric)
}

// StaticSource serves reference records held in memory, typically loaded
// from a YAML fixture of regulator and exchange filings
type StaticSource struct {
	name    string
	mu      sync.RWMutex
	records map[string][]model.ReferenceRecord
	count   int
}

// NewStaticSource creates an empty source
func NewStaticSource(name string) *StaticSource {
	if name == "" {
		name = "static"
	}
	return &StaticSource{name: name, records: make(map[string][]model.ReferenceRecord)}
}

func (s *StaticSource) Name() string { return s.name }

// Add stores a record. Records need an entity, a metric and an as-of date.
func (s *StaticSource) Add(r model.ReferenceRecord) error {
	if r.EntityID == "" || r.Metric == "" {
		return fmt.Errorf("reference %q: entity_id and metric are required", r.ID)
	}
	if r.AsOf.IsZero() {
		return fmt.Errorf("reference %q: as_of is required", r.ID)
	}
	if r.FiledAt.IsZero() {
		r.FiledAt = r.AsOf
	}
	if r.Source == "" {
		r.Source = s.name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = fmt.Sprintf("%s:%d", s.name, s.count+1)
	}
	key := refKey(r.EntityID, r.Metric)
	s.records[key] = append(s.records[key], r)
	s.count++
	return nil
}

// Len returns the number of stored records
func (s *StaticSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *StaticSource) References(_ context.Context, entityID string, metric model.Metric) ([]model.ReferenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[refKey(entityID, metric)]
	out := make([]model.ReferenceRecord, len(recs))
	copy(out, recs)
	return out, nil
}

type referenceFile struct {
	Source     string            `yaml:"source"`
	Sectors    map[string]string `yaml:"sectors"` // Entity id → sector, for regulator routing
	References []referenceEntry  `yaml:"references"`
}

type referenceEntry struct {
	ID       string `yaml:"id"`
	EntityID string `yaml:"entity_id"`
	Metric   string `yaml:"metric"`
	Value    string `yaml:"value"`
	Scale    string `yaml:"scale"`
	Unit     string `yaml:"unit"`
	AsOf     string `yaml:"as_of"`
	FiledAt  string `yaml:"filed_at"`
	Tier     string `yaml:"tier"`
	Sector   string `yaml:"sector"`
	Source   string `yaml:"source"`
	URL      string `yaml:"url"`
}

var scaleFactors = map[string]decimal.Decimal{
	"":         decimal.NewFromInt(1),
	"thousand": decimal.New(1, 3),
	"lakh":     decimal.New(1, 5),
	"million":  decimal.New(1, 6),
	"crore":    decimal.New(1, 7),
	"billion":  decimal.New(1, 9),
}

// LoadReferences reads a YAML reference fixture. Records without an explicit
// tier are classified by URL and the entity's sector.
func LoadReferences(path string, classifier *TierClassifier) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read references: %w", err)
	}

	var file referenceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse references: %w", err)
	}

	sectors := make(map[string]string, len(file.Sectors))
	for entity, sector := range file.Sectors {
		sectors[strings.ToUpper(strings.TrimSpace(entity))] = sector
	}

	src := NewStaticSource(file.Source)
	for i, e := range file.References {
		if e.Sector == "" {
			e.Sector = sectors[strings.ToUpper(strings.TrimSpace(e.EntityID))]
		}
		rec, err := e.record(classifier)
		if err != nil {
			return nil, fmt.Errorf("references[%d]: %w", i, err)
		}
		if err := src.Add(rec); err != nil {
			return nil, err
		}
	}
	return src, nil
}

func (e referenceEntry) record(classifier *TierClassifier) (model.ReferenceRecord, error) {
	value, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(e.Value), ",", ""))
	if err != nil {
		return model.ReferenceRecord{}, fmt.Errorf("value %q: %w", e.Value, err)
	}
	factor, ok := scaleFactors[strings.ToLower(strings.TrimSpace(e.Scale))]
	if !ok {
		return model.ReferenceRecord{}, fmt.Errorf("unknown scale %q", e.Scale)
	}

	asOf, err := parseDate(e.AsOf)
	if err != nil {
		return model.ReferenceRecord{}, fmt.Errorf("as_of: %w", err)
	}
	var filed time.Time
	if e.FiledAt != "" {
		if filed, err = parseDate(e.FiledAt); err != nil {
			return model.ReferenceRecord{}, fmt.Errorf("filed_at: %w", err)
		}
	}

	tier := model.ParseSourceTier(strings.ToLower(e.Tier))
	if tier == model.TierUnknown && classifier != nil && e.URL != "" {
		tier = classifier.ClassifyFor(e.URL, e.Sector)
	}

	return model.ReferenceRecord{
		ID:       e.ID,
		EntityID: strings.ToUpper(strings.TrimSpace(e.EntityID)),
		Metric:   model.Metric(strings.ToLower(e.Metric)),
		Value:    value.Mul(factor),
		Unit:     strings.ToUpper(e.Unit),
		AsOf:     asOf,
		FiledAt:  filed,
		Tier:     tier,
		Source:   e.Source,
		URL:      e.URL,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// HistorySource remembers confirmed claims so later disclosures can be
// checked against them. It is the weakest reference tier.
type HistorySource struct {
	mu      sync.RWMutex
	records map[string][]model.ReferenceRecord
	seen    map[string]bool
}

// NewHistorySource creates an empty history
func NewHistorySource() *HistorySource {
	return &HistorySource{records: make(map[string][]model.ReferenceRecord), seen: make(map[string]bool)}
}

func (h *HistorySource) Name() string { return model.TierHistory.String() }

// Record adds a confirmed, dated claim. It reports whether the claim was added.
func (h *HistorySource) Record(c model.Claim, v model.Verdict) bool {
	if v.Status != model.StatusConfirmed || c.AsOf == nil || c.SubjectEntityID == "" {
		return false
	}

	rec := model.ReferenceRecord{
		ID:       historyID(c.ID),
		EntityID: strings.ToUpper(c.SubjectEntityID),
		Metric:   c.Metric,
		Value:    c.Value,
		Unit:     c.Unit,
		AsOf:     *c.AsOf,
		FiledAt:  v.CreatedAt,
		Tier:     model.TierHistory,
		Source:   "document " + c.DocumentID,
	}
	if v.MatchedReference != nil {
		rec.URL = v.MatchedReference.URL
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen[rec.ID] {
		return false
	}
	h.seen[rec.ID] = true
	key := refKey(rec.EntityID, rec.Metric)
	h.records[key] = append(h.records[key], rec)
	return true
}

// Len returns the number of remembered claims
func (h *HistorySource) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.seen)
}

func (h *HistorySource) References(_ context.Context, entityID string, metric model.Metric) ([]model.ReferenceRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	recs := h.records[refKey(entityID, metric)]
	out := make([]model.ReferenceRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func historyID(claimID string) string {
	return "history:" + claimID
}
