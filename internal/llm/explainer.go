package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/credible/internal/model"
)

// Explainer produces explanations with graceful degradation: provider
// failures become warnings on the explanation, never errors for the caller.
type Explainer struct {
	provider Provider
	config   Config
}

// NewExplainer creates an explainer. A disabled config yields an explainer
// whose explanations are marked not enabled.
func NewExplainer(ctx context.Context, config Config) (*Explainer, error) {
	provider, err := NewProvider(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return &Explainer{provider: provider, config: config}, nil
}

// NewExplainerWith wraps an existing provider
func NewExplainerWith(provider Provider, config Config) *Explainer {
	return &Explainer{provider: provider, config: config}
}

// IsEnabled reports whether a provider is configured
func (e *Explainer) IsEnabled() bool {
	return e != nil && e.provider != nil
}

// ProviderName returns the configured provider or "none"
func (e *Explainer) ProviderName() string {
	if !e.IsEnabled() {
		return "none"
	}
	return e.provider.Name()
}

// Explain narrates score. The returned explanation is never nil.
func (e *Explainer) Explain(ctx context.Context, score model.CredibilityScore) *model.Explanation {
	out := &model.Explanation{
		Enabled:        e.IsEnabled(),
		StrictEvidence: e.config.StrictEvidence,
	}
	if !out.Enabled {
		return out
	}
	out.Provider = e.provider.Name()

	if !e.provider.IsAvailable(ctx) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("LLM provider %s not available", out.Provider))
		return out
	}

	urls := EvidenceURLs(score)
	resp, err := e.provider.Explain(ctx, ExplainRequest{
		Score:        score,
		EvidenceURLs: urls,
		Model:        e.config.Model,
		MaxTokens:    e.config.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, ErrCitationLeak) {
			out.Warnings = append(out.Warnings, "explanation discarded: "+err.Error())
		} else {
			out.Warnings = append(out.Warnings, fmt.Sprintf("explanation failed: %v", err))
		}
		return out
	}

	out.Model = resp.Model
	out.SummaryMD = resp.Summary
	out.CitedURLs = resp.CitedURLs
	if resp.TokensUsed > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("Tokens used: %d", resp.TokensUsed))
	}
	if e.config.StrictEvidence && len(resp.CitedURLs) > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("Verified %d citations against %d evidence URLs", len(resp.CitedURLs), len(urls)))
	}
	return out
}

// RenderMarkdown renders an explanation as a standalone section, marked as
// generated and separate from the computed score
func RenderMarkdown(x *model.Explanation) string {
	if x == nil || !x.Enabled {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Score Explanation\n\n")
	b.WriteString("> GENERATED CONTENT. The score was computed independently; this text does not affect it.\n\n")
	fmt.Fprintf(&b, "**Provider:** %s", x.Provider)
	if x.Model != "" {
		fmt.Fprintf(&b, " (%s)", x.Model)
	}
	fmt.Fprintf(&b, "  \n**Strict evidence:** %t\n\n", x.StrictEvidence)

	if x.SummaryMD != "" {
		b.WriteString(x.SummaryMD)
		b.WriteString("\n")
	} else {
		b.WriteString("_No explanation available._\n")
	}

	if len(x.CitedURLs) > 0 {
		b.WriteString("\n## Cited References\n\n")
		for _, url := range x.CitedURLs {
			fmt.Fprintf(&b, "- %s\n", url)
		}
	}
	if len(x.Warnings) > 0 {
		b.WriteString("\n## Notes\n\n")
		for _, w := range x.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}
