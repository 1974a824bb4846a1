package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/worker"
)

// RecognizedLine is one line of text read from an image
type RecognizedLine struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// VisionProvider reads text lines from an image
type VisionProvider interface {
	Name() string
	Recognize(ctx context.Context, image []byte, mimeType string) ([]RecognizedLine, error)
}

// OCRStrategy extracts text from scans and screenshots
type OCRStrategy struct {
	provider VisionProvider
}

// NewOCRStrategy wraps a vision provider
func NewOCRStrategy(p VisionProvider) *OCRStrategy {
	return &OCRStrategy{provider: p}
}

func (s *OCRStrategy) Name() string { return "ocr:" + s.provider.Name() }

func (s *OCRStrategy) Extract(ctx context.Context, doc model.Document) (model.ExtractedText, error) {
	mimeType := doc.ContentType
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(doc.Content)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return model.ExtractedText{}, worker.Permanent(fmt.Errorf("%w: content is %s, not an image", model.ErrMalformedDocument, mimeType))
	}

	lines, err := s.provider.Recognize(ctx, doc.Content, mimeType)
	if err != nil {
		return model.ExtractedText{}, err
	}

	var b textBuilder
	for _, l := range lines {
		b.add(strings.TrimSpace(l.Text), l.Confidence, "\n")
	}
	return b.result(s.Name()), nil
}

const ocrPrompt = `Transcribe every line of text in this image exactly as printed, top to bottom.
Keep numbers, currency symbols, units and punctuation unchanged. Do not summarize.
For each line estimate your reading confidence between 0 and 1 (lower for blurred,
cropped or ambiguous characters).
Respond with JSON only: {"lines":[{"text":"...","confidence":0.0}]}`

// parseRecognizedLines decodes the JSON line list a vision model returns
func parseRecognizedLines(raw string) ([]RecognizedLine, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var payload struct {
		Lines []RecognizedLine `json:"lines"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	for i := range payload.Lines {
		c := payload.Lines[i].Confidence
		if math.IsNaN(c) {
			c = 0
		}
		payload.Lines[i].Confidence = clamp01(c)
	}
	return payload.Lines, nil
}
