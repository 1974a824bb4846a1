// Package llm writes optional plain-language explanations of credibility
// scores. The explanation is never an input to the score, and in strict
// evidence mode it may only cite reference URLs attached to the score.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ppiankov/credible/internal/model"
)

// ErrCitationLeak is returned when a response cites a URL outside the allowlist
var ErrCitationLeak = errors.New("citation leak")

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Explain narrates a score using only the allowed evidence URLs
	Explain(ctx context.Context, req ExplainRequest) (*ExplainResponse, error)

	// IsAvailable checks if the provider is configured and reachable
	IsAvailable(ctx context.Context) bool
}

// ExplainRequest contains the input for an explanation
type ExplainRequest struct {
	Score model.CredibilityScore

	// EvidenceURLs is the allowlist of URLs the model may cite
	EvidenceURLs []string

	// Prompt overrides BuildPrompt when set
	Prompt string

	Model     string
	MaxTokens int
}

// ExplainResponse contains the model output
type ExplainResponse struct {
	Summary    string
	CitedURLs  []string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "ollama", "gemini" or "" for disabled
	Provider string

	Model   string
	APIKey  string
	BaseURL string // OpenAI-compatible endpoint, e.g. Ollama

	Timeout int // seconds

	// StrictEvidence rejects responses citing URLs outside the allowlist
	StrictEvidence bool

	MaxTokens int
}

// DefaultConfig returns the disabled configuration
func DefaultConfig() Config {
	return Config{
		Timeout:        30,
		StrictEvidence: true,
		MaxTokens:      800,
	}
}

const systemPrompt = "You explain financial credibility scores. You describe evidence, never investment merit."

// BuildPrompt constructs the default explanation prompt
func BuildPrompt(score model.CredibilityScore, evidenceURLs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Explain the credibility score below in 3-4 sentences for a retail investor.

RULES:
1. You may ONLY cite URLs from this list:
%s

2. Do not cite or infer any other source.
3. Describe what the filings confirm or contradict and what the market signals show.
4. Never recommend buying or selling. Never say a company is a fraud.
5. If evidence is partial, say so.

Score:
- Entity: %s
- Score: %d/100 (confidence %s, coverage %.0f%%)
- Document score: %.1f, anomaly discount %.0f%%
- Partial evidence: %t
`, joinURLs(evidenceURLs), score.EntityID, score.Score, score.Confidence,
		score.Coverage*100, score.Breakdown.DocumentScore, score.Breakdown.AnomalyDiscount*100,
		score.PartialEvidence)

	b.WriteString("\nTop evidence:\n")
	for i, item := range score.Evidence {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- [%s] %s (%+.1f points)\n", item.Kind, item.Description, item.Impact)
	}
	for _, note := range score.Breakdown.Notes {
		fmt.Fprintf(&b, "- note: %s\n", note)
	}
	return b.String()
}

// EvidenceURLs returns the distinct reference URLs behind a score, in
// evidence order
func EvidenceURLs(score model.CredibilityScore) []string {
	var urls []string
	for _, item := range score.Evidence {
		if item.URL != "" && !slices.Contains(urls, item.URL) {
			urls = append(urls, item.URL)
		}
	}
	return urls
}

func joinURLs(urls []string) string {
	if len(urls) == 0 {
		return "(No evidence URLs available)"
	}
	var b strings.Builder
	for i, url := range urls {
		if i >= 20 {
			fmt.Fprintf(&b, "\n... and %d more URLs", len(urls)-20)
			break
		}
		b.WriteString("\n- " + url)
	}
	return b.String()
}

var urlPattern = regexp.MustCompile(`https?://[^\s\)\]>"]+`)

// extractURLs returns the distinct URLs in text
func extractURLs(text string) []string {
	var unique []string
	for _, url := range urlPattern.FindAllString(text, -1) {
		url = strings.TrimRight(url, ".,;:!?")
		if !slices.Contains(unique, url) {
			unique = append(unique, url)
		}
	}
	return unique
}

// checkCitations fails on the first cited URL outside allowed
func checkCitations(cited, allowed []string) error {
	for _, url := range cited {
		if !slices.Contains(allowed, url) {
			return fmt.Errorf("%w: model cited disallowed URL %s", ErrCitationLeak, url)
		}
	}
	return nil
}

// finish applies the strict evidence check shared by providers
func finish(cfg Config, req ExplainRequest, summary, modelName string, tokens int) (*ExplainResponse, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("empty response from model")
	}
	cited := extractURLs(summary)
	if cfg.StrictEvidence {
		if err := checkCitations(cited, req.EvidenceURLs); err != nil {
			return nil, err
		}
	}
	return &ExplainResponse{
		Summary:    summary,
		CitedURLs:  cited,
		Model:      modelName,
		TokensUsed: tokens,
	}, nil
}
