package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credible/internal/model"
)

type stubVerifier struct {
	calls int32
	delay time.Duration
	fail  map[string]bool
}

func (s *stubVerifier) Verify(ctx context.Context, doc model.Document) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.fail[doc.ID] {
		return "", errors.New("verify failed")
	}
	return "score:" + doc.ID, nil
}

func docs(ids ...string) []model.Document {
	out := make([]model.Document, len(ids))
	for i, id := range ids {
		out[i] = model.Document{ID: id, MediaKind: model.MediaText, Content: []byte("x")}
	}
	return out
}

func TestBatchProcessor_PreservesOrder(t *testing.T) {
	v := &stubVerifier{fail: map[string]bool{"b": true}}
	bp := NewBatchProcessor[string](v, 3)

	results := bp.Process(context.Background(), docs("a", "b", "c", "d"))

	require.Len(t, results, 4)
	assert.Equal(t, int32(4), atomic.LoadInt32(&v.calls))
	for i, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, id, results[i].DocumentID)
		assert.Equal(t, i, results[i].Index)
	}
	assert.Equal(t, "score:a", results[0].Result)
	assert.Error(t, results[1].Error)
	assert.NoError(t, results[2].Error)
}

func TestBatchProcessor_Empty(t *testing.T) {
	bp := NewBatchProcessor[string](&stubVerifier{}, 2)
	assert.Empty(t, bp.Process(context.Background(), nil))
}

func TestBatchProcessor_Cancelled(t *testing.T) {
	v := &stubVerifier{delay: time.Second}
	bp := NewBatchProcessor[string](v, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	results := bp.Process(ctx, docs("a", "b", "c"))

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Error(t, r.Error)
	}
}

func TestBatchProcessor_Progress(t *testing.T) {
	var buf bytes.Buffer
	bp := NewBatchProcessor[string](&stubVerifier{}, 2).WithProgress(&buf)

	bp.Process(context.Background(), docs("a", "b"))

	assert.Contains(t, buf.String(), "verifying")
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.txt")
	content := `# quarterly results
filings/q1.pdf INE002A01018

filings/q2.html
filings/q1.pdf duplicate
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ManifestEntry{Path: "filings/q1.pdf", EntityHint: "INE002A01018"}, entries[0])
	assert.Equal(t, ManifestEntry{Path: "filings/q2.html"}, entries[1])

	_, err = ReadManifest(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
