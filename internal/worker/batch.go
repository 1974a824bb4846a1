package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/ppiankov/credible/internal/model"
)

// Verifier runs the credibility pipeline for one document
type Verifier[R any] interface {
	Verify(ctx context.Context, doc model.Document) (R, error)
}

// DocumentResult is the outcome of verifying one document in a batch
type DocumentResult[R any] struct {
	Index      int
	DocumentID string
	Result     R
	Error      error
}

// BatchProcessor verifies many documents concurrently
type BatchProcessor[R any] struct {
	verifier    Verifier[R]
	concurrency int
	progress    io.Writer
}

// NewBatchProcessor creates a batch processor
func NewBatchProcessor[R any](verifier Verifier[R], concurrency int) *BatchProcessor[R] {
	return &BatchProcessor[R]{verifier: verifier, concurrency: concurrency}
}

// WithProgress renders a progress bar to w while the batch runs
func (b *BatchProcessor[R]) WithProgress(w io.Writer) *BatchProcessor[R] {
	b.progress = w
	return b
}

// Process verifies docs and returns results in input order.
// Documents still queued when ctx ends carry ctx.Err().
func (b *BatchProcessor[R]) Process(ctx context.Context, docs []model.Document) []DocumentResult[R] {
	out := make([]DocumentResult[R], len(docs))
	if len(docs) == 0 {
		return out
	}
	for i, d := range docs {
		out[i] = DocumentResult[R]{Index: i, DocumentID: d.ID}
	}

	var bar *progressbar.ProgressBar
	if b.progress != nil {
		bar = progressbar.NewOptions(len(docs),
			progressbar.OptionSetWriter(b.progress),
			progressbar.OptionSetDescription("verifying"),
			progressbar.OptionSetItsString("docs"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	pool := NewPool[DocumentResult[R]](ctx, b.concurrency)
	pool.Start()

	go func() {
		defer pool.Close()
		for i, doc := range docs {
			idx, d := i, doc
			ok := pool.Submit(func(ctx context.Context) DocumentResult[R] {
				r, err := b.verifier.Verify(ctx, d)
				return DocumentResult[R]{Index: idx, DocumentID: d.ID, Result: r, Error: err}
			})
			if !ok {
				return
			}
		}
	}()

	done := make([]bool, len(docs))
	for r := range pool.Results() {
		out[r.Index] = r
		done[r.Index] = true
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	for i := range out {
		if !done[i] {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			out[i].Error = err
		}
	}
	return out
}

// ManifestEntry is one line of a batch manifest: a path and optional entity hint
type ManifestEntry struct {
	Path       string
	EntityHint string
}

// ReadManifest reads a batch manifest (one "path [entity]" per line).
// Blank lines and # comments are skipped; duplicate paths are dropped.
func ReadManifest(filePath string) ([]ManifestEntry, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []ManifestEntry
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		entry := ManifestEntry{Path: fields[0]}
		if len(fields) > 1 {
			entry.EntityHint = fields[1]
		}
		if seen[entry.Path] {
			continue
		}
		seen[entry.Path] = true
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	return entries, nil
}
