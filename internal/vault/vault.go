// Package vault is the append-only evidence store. Verdicts and extracted text
// are written once by id; scores are never overwritten, each recomputation is
// stored as the next version of the entity's score. Every record is wrapped in
// an envelope carrying the SHA-256 of its canonical JSON, checked on read.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
)

var scoreNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ppiankov/credible/score"))

// ErrTampered is returned when a stored record no longer matches its hash
var ErrTampered = errors.New("record hash mismatch")

const (
	kindVerdict    = "verdict"
	kindScore      = "score"
	kindExtraction = "extraction"

	versionAttempts = 3
)

type envelope struct {
	Kind   string          `json:"kind"`
	Hash   string          `json:"hash"`
	Record json.RawMessage `json:"record"`
}

// Vault is the arena over a Backend
type Vault struct {
	backend Backend
	log     *logging.Logger

	mu sync.Mutex // Serializes version allocation in this process
}

// Option configures a Vault
type Option func(*Vault)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(v *Vault) { v.log = l }
}

// New creates a vault over backend
func New(backend Backend, opts ...Option) *Vault {
	v := &Vault{backend: backend, log: logging.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Hash returns the hex SHA-256 of v's canonical JSON. encoding/json emits
// struct fields in declaration order and map keys sorted.
func Hash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func seal(kind string, record any) ([]byte, string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, "", fmt.Errorf("marshal %s: %w", kind, err)
	}
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	data, err := json.Marshal(envelope{Kind: kind, Hash: hash, Record: body})
	if err != nil {
		return nil, "", fmt.Errorf("marshal envelope: %w", err)
	}
	return data, hash, nil
}

func (v *Vault) open(ctx context.Context, key, kind string, out any) error {
	data, err := v.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("%s holds a %s, not a %s", key, env.Kind, kind)
	}
	sum := sha256.Sum256(env.Record)
	if hex.EncodeToString(sum[:]) != env.Hash {
		return fmt.Errorf("%s: %w", key, ErrTampered)
	}
	if err := json.Unmarshal(env.Record, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func verdictKey(id string) string { return "verdicts/" + id + ".json" }

func extractionKey(docID string) string { return "extractions/" + docID + ".json" }

// scorePrefix expects an id accepted by model.NormalizeEntityID
func scorePrefix(entityID string) string {
	norm, _ := model.NormalizeEntityID(entityID)
	return "scores/" + norm + "/"
}

func scoreKey(entityID string, version int) string {
	return fmt.Sprintf("%s%010d.json", scorePrefix(entityID), version)
}

// AppendVerdicts stores each verdict once. A verdict id that already exists
// fails with model.ErrImmutable; the others are still written.
func (v *Vault) AppendVerdicts(ctx context.Context, verdicts ...model.Verdict) error {
	var errs []error
	for _, verdict := range verdicts {
		data, _, err := seal(kindVerdict, verdict)
		if err == nil {
			err = v.backend.Put(ctx, verdictKey(verdict.ID), data)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("verdict %s: %w", verdict.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Verdict fetches a stored verdict
func (v *Vault) Verdict(ctx context.Context, id string) (model.Verdict, error) {
	var out model.Verdict
	err := v.open(ctx, verdictKey(id), kindVerdict, &out)
	return out, err
}

// PutExtraction stores the text extracted from a document, kept for
// diagnostics even when the run was cancelled before cross-checking
func (v *Vault) PutExtraction(ctx context.Context, text model.ExtractedText) error {
	data, _, err := seal(kindExtraction, text)
	if err != nil {
		return err
	}
	return v.backend.Put(ctx, extractionKey(text.DocumentID), data)
}

// Extraction fetches stored extracted text
func (v *Vault) Extraction(ctx context.Context, docID string) (model.ExtractedText, error) {
	var out model.ExtractedText
	err := v.open(ctx, extractionKey(docID), kindExtraction, &out)
	return out, err
}

// AppendScore stores s as the next version for its entity, filling in
// Version, ID and Hash and normalizing EntityID. The stored score is
// returned.
func (v *Vault) AppendScore(ctx context.Context, s model.CredibilityScore) (model.CredibilityScore, error) {
	if s.EntityID == "" {
		return model.CredibilityScore{}, fmt.Errorf("score has no entity id")
	}
	norm, err := model.NormalizeEntityID(s.EntityID)
	if err != nil {
		return model.CredibilityScore{}, err
	}
	s.EntityID = norm
	v.mu.Lock()
	defer v.mu.Unlock()

	latest, err := v.latestVersion(ctx, s.EntityID)
	if err != nil {
		return model.CredibilityScore{}, err
	}

	// Another process may claim a version between List and Put
	for attempt := 0; attempt < versionAttempts; attempt++ {
		s.Version = latest + 1 + attempt
		s.ID = uuid.NewSHA1(scoreNamespace, []byte(s.EntityID+"|"+strconv.Itoa(s.Version))).String()
		s.Hash = ""
		hash, err := Hash(s)
		if err != nil {
			return model.CredibilityScore{}, err
		}
		s.Hash = hash

		data, _, err := seal(kindScore, s)
		if err != nil {
			return model.CredibilityScore{}, err
		}
		err = v.backend.Put(ctx, scoreKey(s.EntityID, s.Version), data)
		if err == nil {
			v.log.Debug().Str("entity", s.EntityID).Int("version", s.Version).Int("score", s.Score).Msg("score stored")
			return s, nil
		}
		if !errors.Is(err, model.ErrImmutable) {
			return model.CredibilityScore{}, fmt.Errorf("store score: %w", err)
		}
	}
	return model.CredibilityScore{}, fmt.Errorf("store score for %s: version contention: %w", s.EntityID, model.ErrImmutable)
}

func (v *Vault) scoreVersions(ctx context.Context, entityID string) ([]int, error) {
	if _, err := model.NormalizeEntityID(entityID); err != nil {
		return nil, err
	}
	prefix := scorePrefix(entityID)
	keys, err := v.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(keys))
	for _, k := range keys {
		if path.Dir(k)+"/" != prefix {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(path.Base(k), ".json"))
		if err != nil {
			continue
		}
		versions = append(versions, n)
	}
	return versions, nil
}

func (v *Vault) latestVersion(ctx context.Context, entityID string) (int, error) {
	versions, err := v.scoreVersions(ctx, entityID)
	if err != nil {
		return 0, err
	}
	latest := 0
	for _, n := range versions {
		latest = max(latest, n)
	}
	return latest, nil
}

// ScoreVersion fetches one stored version
func (v *Vault) ScoreVersion(ctx context.Context, entityID string, version int) (model.CredibilityScore, error) {
	var out model.CredibilityScore
	if _, err := model.NormalizeEntityID(entityID); err != nil {
		return out, err
	}
	err := v.open(ctx, scoreKey(entityID, version), kindScore, &out)
	return out, err
}

// LatestScore fetches the highest version for entityID
func (v *Vault) LatestScore(ctx context.Context, entityID string) (model.CredibilityScore, error) {
	latest, err := v.latestVersion(ctx, entityID)
	if err != nil {
		return model.CredibilityScore{}, err
	}
	if latest == 0 {
		return model.CredibilityScore{}, fmt.Errorf("score for %s: %w", entityID, model.ErrNotFound)
	}
	return v.ScoreVersion(ctx, entityID, latest)
}

// ScoreHistory returns every stored version for entityID, oldest first
func (v *Vault) ScoreHistory(ctx context.Context, entityID string) ([]model.CredibilityScore, error) {
	versions, err := v.scoreVersions(ctx, entityID)
	if err != nil {
		return nil, err
	}
	out := make([]model.CredibilityScore, 0, len(versions))
	for _, n := range versions {
		s, err := v.ScoreVersion(ctx, entityID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// VerifyScore recomputes the hash of s
func VerifyScore(s model.CredibilityScore) error {
	want := s.Hash
	s.Hash = ""
	got, err := Hash(s)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("score %s version %d: %w", s.EntityID, s.Version, ErrTampered)
	}
	return nil
}
