package identifier

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/credible/internal/model"
)

// StaticRegistry serves registry records loaded from a YAML snapshot
type StaticRegistry struct {
	name    string
	path    string
	mu      sync.RWMutex
	records map[string][]model.RegistryRecord
}

type staticFile struct {
	Registry string                 `yaml:"registry"`
	Records  []model.RegistryRecord `yaml:"records"`
}

// NewStaticRegistry creates an empty in-memory registry
func NewStaticRegistry(name string) *StaticRegistry {
	if name == "" {
		name = "static"
	}
	return &StaticRegistry{name: name, records: make(map[string][]model.RegistryRecord)}
}

// LoadStaticRegistry reads a YAML snapshot of the form:
//
//	registry: nse-master
//	records:
//	  - entity_id: RELIANCE
//	    name: Reliance Industries Ltd
//	    kind: ISIN
//	    value: INE002A01018
func LoadStaticRegistry(path string) (*StaticRegistry, error) {
	reg, err := readStaticRegistry(path)
	if err != nil {
		return nil, err
	}
	reg.path = path
	return reg, nil
}

func readStaticRegistry(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}

	reg := NewStaticRegistry(f.Registry)
	for i, rec := range f.Records {
		if err := reg.Add(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return reg, nil
}

// Reload re-reads the snapshot the registry was loaded from and swaps in its
// records. A registry built in memory has nothing to reload. On error the
// current records are kept.
func (s *StaticRegistry) Reload(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fresh, err := readStaticRegistry(s.path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", s.name, err)
	}

	s.mu.Lock()
	s.records = fresh.records
	s.mu.Unlock()
	return nil
}

// Add indexes a record under its normalized kind and value
func (s *StaticRegistry) Add(rec model.RegistryRecord) error {
	kind, err := model.ParseIdentifierKind(string(rec.Kind))
	if err != nil {
		return err
	}
	if rec.EntityID == "" {
		return fmt.Errorf("record %s %s has no entity_id", rec.Kind, rec.Value)
	}
	rec.Kind = kind
	rec.Value = Normalize(rec.Value)
	if rec.Registry == "" {
		rec.Registry = s.name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(kind) + ":" + rec.Value
	s.records[k] = append(s.records[k], rec)
	return nil
}

// Len returns the number of indexed records
func (s *StaticRegistry) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}

func (s *StaticRegistry) Name() string { return s.name }

func (s *StaticRegistry) Lookup(ctx context.Context, kind model.IdentifierKind, value string) (LookupResult, error) {
	if err := ctx.Err(); err != nil {
		return LookupResult{}, err
	}

	s.mu.RLock()
	recs := s.records[string(kind)+":"+value]
	out := make([]model.RegistryRecord, len(recs))
	copy(out, recs)
	s.mu.RUnlock()

	return resultFromRecords(out), nil
}
