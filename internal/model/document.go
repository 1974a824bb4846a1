package model

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind is the declared media type of a submitted document
type MediaKind string

const (
	MediaText  MediaKind = "text"  // Text-bearing files: plain text, HTML, PDF
	MediaImage MediaKind = "image" // Scans and screenshots (OCR)
	MediaAudio MediaKind = "audio" // Earnings calls, recorded statements (ASR)
	MediaVideo MediaKind = "video" // Video announcements (ASR on the audio track)
)

// ParseMediaKind converts a string into a MediaKind
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case MediaText:
		return MediaText, nil
	case MediaImage:
		return MediaImage, nil
	case MediaAudio:
		return MediaAudio, nil
	case MediaVideo:
		return MediaVideo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaKind, s)
	}
}

// Document is a submitted disclosure. Immutable once ingested.
type Document struct {
	ID          string    `json:"id"`
	MediaKind   MediaKind `json:"media_kind"`
	ContentType string    `json:"content_type,omitempty"` // e.g. application/pdf, text/html
	Content     []byte    `json:"-"`
	Source      string    `json:"source"`                // Declared source (exchange feed, upload, URL)
	EntityHint  string    `json:"entity_hint,omitempty"` // Entity identifier supplied by the submitter
	ReceivedAt  time.Time `json:"received_at"`
}

// Validate reports whether the document is well-formed enough to process
func (d Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedDocument)
	}
	if d.MediaKind == "" {
		return fmt.Errorf("%w: missing media kind", ErrMalformedDocument)
	}
	if len(d.Content) == 0 {
		return fmt.Errorf("%w: empty content", ErrMalformedDocument)
	}
	return nil
}

// Span is a half-open byte offset range [Start, End) into an ExtractedText
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span length in bytes
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two spans share at least one byte
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Contains reports whether o lies entirely within s
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// Segment is a region of extracted text with a single extraction confidence
type Segment struct {
	Span
	Confidence float64 `json:"confidence"` // 0-1
}

// ExtractedText is the normalized text of one Document
type ExtractedText struct {
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Segments   []Segment `json:"segments"`
	Method     string    `json:"method"` // e.g. "text:pdf", "ocr:openai", "asr:openai"
}

// Contains reports whether span lies within the text bounds
func (t ExtractedText) Contains(span Span) bool {
	return span.Start >= 0 && span.End <= len(t.Text) && span.Start <= span.End
}

// ConfidenceAt returns the lowest confidence of any segment overlapping span.
// Text not covered by a segment has confidence 0.
func (t ExtractedText) ConfidenceAt(span Span) float64 {
	conf := -1.0
	for _, seg := range t.Segments {
		if seg.Overlaps(span) && (conf < 0 || seg.Confidence < conf) {
			conf = seg.Confidence
		}
	}
	if conf < 0 {
		return 0
	}
	return conf
}

// MeanConfidence returns the length-weighted mean segment confidence
func (t ExtractedText) MeanConfidence() float64 {
	var weighted, total float64
	for _, seg := range t.Segments {
		n := float64(seg.Len())
		weighted += seg.Confidence * n
		total += n
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}
