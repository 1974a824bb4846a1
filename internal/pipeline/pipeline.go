// Package pipeline runs one document through extraction, identifier
// validation, claim parsing, cross-checking and score aggregation, and
// appends the outcome to the evidence vault.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/credible/internal/anomaly"
	"github.com/ppiankov/credible/internal/crosscheck"
	"github.com/ppiankov/credible/internal/extract"
	"github.com/ppiankov/credible/internal/identifier"
	"github.com/ppiankov/credible/internal/llm"
	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/score"
	"github.com/ppiankov/credible/internal/vault"
	"github.com/ppiankov/credible/internal/worker"
)

// Result is the outcome of verifying one document. When the run is
// cancelled the extracted text is kept but no verdicts are promoted.
type Result struct {
	Document    model.Document          `json:"document"`
	Text        model.ExtractedText     `json:"extracted_text"`
	EntityID    string                  `json:"entity_id,omitempty"`
	Identifiers []model.Identifier      `json:"identifiers"`
	Claims      []model.Claim           `json:"claims"`
	Verdicts    []model.Verdict         `json:"verdicts"`
	Signals     []model.AnomalySignal   `json:"signals,omitempty"` // Derived from this document
	Score       *model.CredibilityScore `json:"score,omitempty"`
	Explanation *model.Explanation      `json:"explanation,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Pipeline orchestrates the verification of documents. It is safe for
// concurrent use; documents about the same entity share one ledger.
type Pipeline struct {
	extractor  *extract.Extractor
	validator  *identifier.Validator
	parser     *extract.ClaimParser
	checker    *crosscheck.Checker
	aggregator *score.Aggregator

	book      *anomaly.SignalBook
	market    *anomaly.Scorer
	monitor   *anomaly.Monitor
	vault     *vault.Vault
	explainer *llm.Explainer
	log       *logging.Logger
	now       func() time.Time

	mu      sync.Mutex
	ledgers map[string]*ledger
}

// ledger accumulates the latest verdict per claim and the identifiers seen
// for one entity
type ledger struct {
	verdicts    map[string]model.Verdict
	identifiers map[string]model.Identifier
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithSignalBook shares a signal book, typically with an anomaly.Monitor
func WithSignalBook(b *anomaly.SignalBook) Option {
	return func(p *Pipeline) { p.book = b }
}

// WithMarketScorer enables tone-contradiction checks against market trends
func WithMarketScorer(s *anomaly.Scorer) Option {
	return func(p *Pipeline) { p.market = s }
}

// WithMonitor adds every verified entity to the monitor's watch list
func WithMonitor(m *anomaly.Monitor) Option {
	return func(p *Pipeline) { p.monitor = m }
}

// WithVault appends verdicts, extractions and scores to v
func WithVault(v *vault.Vault) Option {
	return func(p *Pipeline) { p.vault = v }
}

// WithExplainer attaches an LLM explanation to every score
func WithExplainer(e *llm.Explainer) Option {
	return func(p *Pipeline) { p.explainer = e }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithClock sets the clock used for document-derived signals
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline from its stages
func New(extractor *extract.Extractor, validator *identifier.Validator, parser *extract.ClaimParser,
	checker *crosscheck.Checker, aggregator *score.Aggregator, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:  extractor,
		validator:  validator,
		parser:     parser,
		checker:    checker,
		aggregator: aggregator,
		book:       anomaly.NewSignalBook(),
		log:        logging.Nop(),
		now:        time.Now,
		ledgers:    make(map[string]*ledger),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Verify runs doc through every stage. Only a malformed document, an invalid
// entity hint, or an unsupported media kind returns an error with an unusable
// result; a cancelled context returns what was finished so far with
// ctx.Err(). A score that cannot be stored is returned with the error.
// Everything else degrades into warnings and partial evidence.
func (p *Pipeline) Verify(ctx context.Context, doc model.Document) (*Result, error) {
	res := &Result{Document: doc}
	log := p.log.With().Str("document", doc.ID).Logger()

	var hint string
	if strings.TrimSpace(doc.EntityHint) != "" {
		h, err := model.NormalizeEntityID(doc.EntityHint)
		if err != nil {
			return res, fmt.Errorf("entity hint: %w", err)
		}
		hint = h
	}

	text, err := p.extractor.Extract(ctx, doc)
	res.Text = text
	switch {
	case err == nil:
	case errors.Is(err, model.ErrMalformedDocument):
		return res, err
	case errors.Is(err, model.ErrExtractionFailure):
		res.warn("extraction failed, continuing with empty text: %v", err)
	default:
		return res, err
	}
	p.storeExtraction(ctx, res)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	found := extract.FindIdentifiers(text.Text)
	res.Identifiers = p.validator.ValidateAll(ctx, found)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	subject := crosscheck.Subject{Mentions: mentions(found, res.Identifiers)}
	subject.EntityID, subject.ResolvedFrom = subjectEntity(hint, res.Identifiers)
	res.EntityID = subject.EntityID
	if res.EntityID == "" {
		res.warn("no subject entity: no entity hint and no resolvable identifier")
	}

	res.Claims = p.parser.ParseAll(text, res.EntityID)
	verdicts := p.checker.CheckAll(ctx, res.Claims, subject)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Verdicts = verdicts

	if res.EntityID != "" {
		res.Signals = p.documentSignals(ctx, res)
		p.book.AddDocument(res.EntityID, doc.ID, res.Signals...)
		if p.monitor != nil {
			p.monitor.Watch(res.EntityID)
			if err := p.monitor.Refresh(ctx, res.EntityID); err != nil {
				res.warn("market scoring: %v", err)
			}
		}
	}

	if p.vault != nil {
		if err := p.vault.AppendVerdicts(ctx, verdicts...); err != nil {
			res.warn("vault: %v", err)
		}
	}

	s, err := p.seal(ctx, p.scoreInput(res))
	res.Score = &s
	if err != nil {
		return res, err
	}

	if p.explainer.IsEnabled() {
		res.Explanation = p.explainer.Explain(ctx, s)
	}

	log.Info().
		Str("entity", res.EntityID).
		Str("method", text.Method).
		Int("claims", len(res.Claims)).
		Int("verdicts", len(res.Verdicts)).
		Int("signals", len(res.Signals)).
		Int("score", s.Score).
		Str("confidence", s.Confidence).
		Msg("document verified")
	return res, nil
}

// Rescore aggregates everything known about entityID again, typically after
// its market signals changed, and stores the result as a new version
func (p *Pipeline) Rescore(ctx context.Context, entityID string) (model.CredibilityScore, error) {
	id, err := model.NormalizeEntityID(entityID)
	if err != nil {
		return model.CredibilityScore{}, err
	}
	s, err := p.seal(ctx, p.entityInput(id))
	if err != nil {
		return s, err
	}
	p.log.Info().Str("entity", id).Int("score", s.Score).Int("version", s.Version).Msg("entity rescored")
	return s, nil
}

// seal aggregates in and appends the score to the vault when the entity is
// known
func (p *Pipeline) seal(ctx context.Context, in score.Input) (model.CredibilityScore, error) {
	s := p.aggregator.Aggregate(in)
	if p.vault == nil || in.EntityID == "" {
		return s, nil
	}
	stored, err := p.vault.AppendScore(ctx, s)
	if err != nil {
		return s, fmt.Errorf("vault: %w", err)
	}
	return stored, nil
}

// Batch verifies docs with bounded concurrency, in input order
func (p *Pipeline) Batch(ctx context.Context, docs []model.Document, concurrency int, progress io.Writer) []worker.DocumentResult[*Result] {
	bp := worker.NewBatchProcessor[*Result](p, concurrency)
	if progress != nil {
		bp.WithProgress(progress)
	}
	return bp.Process(ctx, docs)
}

func (p *Pipeline) storeExtraction(ctx context.Context, res *Result) {
	if p.vault == nil || res.Text.DocumentID == "" {
		return
	}
	if err := p.vault.PutExtraction(ctx, res.Text); err != nil && !errors.Is(err, model.ErrImmutable) {
		res.warn("vault: %v", err)
	}
}

// documentSignals derives anomaly signals from the document itself
func (p *Pipeline) documentSignals(ctx context.Context, res *Result) []model.AnomalySignal {
	at := res.Document.ReceivedAt
	if at.IsZero() {
		at = p.now()
	}
	at = at.UTC()

	var signals []model.AnomalySignal
	if sig, ok := extract.HypeSignal(res.EntityID, res.Text, at); ok {
		sig.DocumentID = res.Document.ID
		signals = append(signals, sig)
	}
	for _, claim := range res.Claims {
		if sig, ok := p.checker.Deviation(ctx, claim, res.EntityID, at); ok {
			sig.DocumentID = res.Document.ID
			signals = append(signals, sig)
		}
	}
	if p.market != nil {
		tone := extract.ClassifyTone(res.Text.Text)
		sig, ok, err := p.market.ToneContradiction(ctx, res.EntityID, tone, at)
		switch {
		case err != nil:
			res.warn("tone check skipped: %v", err)
		case ok:
			sig.DocumentID = res.Document.ID
			signals = append(signals, sig)
		}
	}
	return signals
}

// scoreInput merges this document's evidence into the entity ledger and
// returns everything known about the entity. Documents without a subject
// are scored on their own evidence only.
func (p *Pipeline) scoreInput(res *Result) score.Input {
	if res.EntityID == "" {
		return score.Input{Verdicts: res.Verdicts, Identifiers: res.Identifiers}
	}

	p.mu.Lock()
	l := p.ledger(res.EntityID)
	for _, v := range res.Verdicts {
		l.verdicts[v.ClaimID] = v
	}
	for _, id := range res.Identifiers {
		l.identifiers[string(id.Kind)+":"+id.Value] = id
	}
	p.mu.Unlock()

	return p.entityInput(res.EntityID)
}

// entityInput collects the ledger and signal book of entityID
func (p *Pipeline) entityInput(entityID string) score.Input {
	in := score.Input{EntityID: entityID}
	p.mu.Lock()
	if l, ok := p.ledgers[strings.ToUpper(entityID)]; ok {
		for _, v := range l.verdicts {
			in.Verdicts = append(in.Verdicts, v)
		}
		for _, id := range l.identifiers {
			in.Identifiers = append(in.Identifiers, id)
		}
	}
	p.mu.Unlock()

	in.Signals, in.MarketAsOf = p.book.Snapshot(entityID)
	return in
}

// ledger returns the ledger of entityID, creating it; p.mu must be held
func (p *Pipeline) ledger(entityID string) *ledger {
	key := strings.ToUpper(entityID)
	l, ok := p.ledgers[key]
	if !ok {
		l = &ledger{verdicts: make(map[string]model.Verdict), identifiers: make(map[string]model.Identifier)}
		p.ledgers[key] = l
	}
	return l
}

// mentions pairs every identifier occurrence in the text with its validated
// form
func mentions(found []model.IdentifierMention, ids []model.Identifier) []crosscheck.Mention {
	byKey := make(map[string]model.Identifier, len(ids))
	for _, id := range ids {
		byKey[string(id.Kind)+":"+identifier.Normalize(id.Raw)] = id
	}
	out := make([]crosscheck.Mention, 0, len(found))
	for _, m := range found {
		id, ok := byKey[string(m.Kind)+":"+identifier.Normalize(m.Raw)]
		if !ok {
			continue
		}
		out = append(out, crosscheck.Mention{Identifier: id, Span: m.Span})
	}
	return out
}

// subjectEntity picks the entity a document speaks about: the submitter's
// normalized hint, else the first identifier that resolved to a usable
// entity id, else the first that at least passed its checksum. The second
// result is the identifier the entity came from.
func subjectEntity(hint string, ids []model.Identifier) (string, *model.Identifier) {
	if hint != "" {
		return hint, nil
	}
	for i, id := range ids {
		if !id.Usable() {
			continue
		}
		if entity, err := model.NormalizeEntityID(id.EntityID()); err == nil {
			return entity, &ids[i]
		}
	}
	for i, id := range ids {
		if id.Valid && model.ValidEntityID(id.Value) {
			return id.Value, &ids[i]
		}
	}
	return "", nil
}
