package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/credible/internal/worker"
)

// OpenAIConfig configures the OpenAI-compatible vision and speech providers
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // OpenAI-compatible endpoints (Ollama, vLLM, Azure proxies)
	VisionModel string
	SpeechModel string
}

// OpenAIProvider implements VisionProvider and Transcriber
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIProvider creates the provider
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.VisionModel == "" {
		config.VisionModel = openai.GPT4oMini
	}
	if config.SpeechModel == "" {
		config.SpeechModel = openai.Whisper1
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Recognize sends the image inline as a data URI and asks for line-level JSON
func (p *OpenAIProvider) Recognize(ctx context.Context, image []byte, mimeType string) ([]RecognizedLine, error) {
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.config.VisionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a meticulous OCR engine for financial disclosures.",
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: ocrPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURI,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	lines, err := parseRecognizedLines(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, worker.Permanent(err)
	}
	return lines, nil
}

// Transcribe runs speech recognition with per-segment decoder statistics
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, filename string) ([]TranscriptSegment, error) {
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.config.SpeechModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	segs := make([]TranscriptSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, TranscriptSegment{
			Text:         s.Text,
			Start:        s.Start,
			End:          s.End,
			AvgLogprob:   s.AvgLogprob,
			NoSpeechProb: s.NoSpeechProb,
		})
	}
	// Some compatible servers return only the flat text
	if len(segs) == 0 && strings.TrimSpace(resp.Text) != "" {
		segs = append(segs, TranscriptSegment{Text: resp.Text, AvgLogprob: -0.5})
	}
	return segs, nil
}

// classifyOpenAIError marks client-side API errors as permanent; rate limits
// and server errors stay retryable
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("OpenAI API error: %w", err)
		}
		return worker.Permanent(fmt.Errorf("OpenAI API error: %w", err))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= 400 && reqErr.HTTPStatusCode < 500 &&
		reqErr.HTTPStatusCode != http.StatusTooManyRequests {
		return worker.Permanent(fmt.Errorf("OpenAI request error: %w", err))
	}
	return fmt.Errorf("OpenAI API error: %w", err)
}
