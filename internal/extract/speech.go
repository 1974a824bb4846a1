package extract

import (
	"context"
	"math"
	"mime"
	"strings"

	"github.com/ppiankov/credible/internal/model"
)

// TranscriptSegment is one timed stretch of recognized speech
type TranscriptSegment struct {
	Text         string
	Start, End   float64 // seconds
	AvgLogprob   float64
	NoSpeechProb float64
}

// Confidence maps decoder statistics to 0-1: the mean token probability,
// discounted by the chance the segment holds no speech at all
func (s TranscriptSegment) Confidence() float64 {
	p := math.Exp(s.AvgLogprob)
	return clamp01(p * (1 - s.NoSpeechProb))
}

// Transcriber converts recorded speech into timed segments
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, filename string) ([]TranscriptSegment, error)
}

// SpeechStrategy extracts text from earnings calls and video announcements
type SpeechStrategy struct {
	transcriber Transcriber
}

// NewSpeechStrategy wraps a transcriber
func NewSpeechStrategy(t Transcriber) *SpeechStrategy {
	return &SpeechStrategy{transcriber: t}
}

func (s *SpeechStrategy) Name() string { return "asr:" + s.transcriber.Name() }

func (s *SpeechStrategy) Extract(ctx context.Context, doc model.Document) (model.ExtractedText, error) {
	segs, err := s.transcriber.Transcribe(ctx, doc.Content, transcriptionFilename(doc))
	if err != nil {
		return model.ExtractedText{}, err
	}

	var b textBuilder
	for _, seg := range segs {
		b.add(strings.TrimSpace(seg.Text), seg.Confidence(), " ")
	}
	return b.result(s.Name()), nil
}

var audioExtensions = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mp4":   ".m4a",
	"audio/m4a":   ".m4a",
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/flac":  ".flac",
	"video/mp4":   ".mp4",
	"video/webm":  ".webm",
	"video/mpeg":  ".mpeg",
}

// transcriptionFilename gives the API a name whose extension matches the content
func transcriptionFilename(doc model.Document) string {
	mt, _, _ := mime.ParseMediaType(doc.ContentType)
	if ext, ok := audioExtensions[mt]; ok {
		return doc.ID + ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return doc.ID + exts[0]
	}
	if doc.MediaKind == model.MediaVideo {
		return doc.ID + ".mp4"
	}
	return doc.ID + ".mp3"
}
