package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/ppiankov/credible/internal/llm"
	"github.com/ppiankov/credible/internal/model"
)

const reportFooter = "_Credibility scores describe how well disclosed figures agree with independent filings and market behaviour. They are not investment advice or a finding of fraud._"

// Renderer writes results as JSON, Markdown and a coloured terminal summary
type Renderer struct {
	includeFooter bool
	colorEnabled  bool
}

// NewRenderer creates a renderer
func NewRenderer(includeFooter, colorEnabled bool) *Renderer {
	return &Renderer{includeFooter: includeFooter, colorEnabled: colorEnabled}
}

// WriteJSON writes v as indented JSON to path
func (r *Renderer) WriteJSON(v any, path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// WriteMarkdown writes the Markdown report of res to path, and the LLM
// explanation, when present, to a sibling .llm.md file
func (r *Renderer) WriteMarkdown(res *Result, path string) error {
	if err := writeFile(path, []byte(r.Markdown(res))); err != nil {
		return err
	}
	if res.Explanation != nil && res.Explanation.Enabled {
		llmPath := strings.TrimSuffix(path, ".md") + ".llm.md"
		if err := writeFile(llmPath, []byte(llm.RenderMarkdown(res.Explanation))); err != nil {
			return fmt.Errorf("write explanation: %w", err)
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Markdown renders the report for one verified document
func (r *Renderer) Markdown(res *Result) string {
	var b strings.Builder
	entity := res.EntityID
	if entity == "" {
		entity = "unknown entity"
	}
	fmt.Fprintf(&b, "# Credibility Report: %s\n\n", entity)
	fmt.Fprintf(&b, "- **Document:** `%s` (%s, %s)\n", res.Document.ID, res.Document.MediaKind, res.Document.Source)
	fmt.Fprintf(&b, "- **Extraction:** %s, confidence %.2f\n", res.Text.Method, res.Text.MeanConfidence())

	if s := res.Score; s != nil {
		fmt.Fprintf(&b, "- **Score:** %d/100 (confidence %s, coverage %.0f%%)\n", s.Score, s.Confidence, s.Coverage*100)
		if s.Version > 0 {
			fmt.Fprintf(&b, "- **Version:** %d, hash `%s`\n", s.Version, s.Hash)
		}
		if s.PartialEvidence {
			b.WriteString("- **Partial evidence:** yes\n")
		}
		b.WriteString("\n## Breakdown\n\n")
		fmt.Fprintf(&b, "`%s`\n\n", s.Breakdown.Formula)
		b.WriteString("| Term | Value |\n|---|---|\n")
		fmt.Fprintf(&b, "| Base | %.1f |\n", s.Breakdown.Base)
		fmt.Fprintf(&b, "| Confirmed | +%.1f |\n", s.Breakdown.ConfirmedPoints)
		fmt.Fprintf(&b, "| Contradicted | -%.1f |\n", s.Breakdown.ContradictPoints)
		fmt.Fprintf(&b, "| Identifiers | -%.1f |\n", s.Breakdown.IdentifierPoints)
		fmt.Fprintf(&b, "| Document score | %.1f |\n", s.Breakdown.DocumentScore)
		fmt.Fprintf(&b, "| Anomaly discount | %.0f%% |\n", s.Breakdown.AnomalyDiscount*100)
		for _, note := range s.Breakdown.Notes {
			fmt.Fprintf(&b, "\n> %s\n", note)
		}
	}

	if len(res.Identifiers) > 0 {
		b.WriteString("\n## Identifiers\n\n| Kind | Value | Valid | Registry |\n|---|---|---|---|\n")
		for _, id := range res.Identifiers {
			fmt.Fprintf(&b, "| %s | %s | %t | %s |\n", id.Kind, id.Value, id.Valid, id.RegistryMatch)
		}
	}

	if len(res.Verdicts) > 0 {
		b.WriteString("\n## Verdicts\n\n| Metric | Status | Rationale |\n|---|---|---|\n")
		for _, v := range res.Verdicts {
			status := string(v.Status)
			if v.LowConfidence {
				status += " (low confidence)"
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", v.Metric, status, escapePipes(v.Rationale))
		}
	}

	if res.Score != nil && len(res.Score.Evidence) > 0 {
		b.WriteString("\n## Evidence\n\n")
		for _, item := range res.Score.Evidence {
			fmt.Fprintf(&b, "- **%+.1f** [%s] %s", item.Impact, item.Kind, item.Description)
			if item.URL != "" {
				fmt.Fprintf(&b, " ([source](%s))", item.URL)
			}
			b.WriteString("\n")
		}
	}

	if len(res.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	if r.includeFooter {
		b.WriteString("\n---\n\n" + reportFooter + "\n")
	}
	return b.String()
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Summary prints a short coloured summary of res to w
func (r *Renderer) Summary(w io.Writer, res *Result) {
	bold := r.paint(color.Bold)
	_, _ = bold.Fprintf(w, "%s", res.Document.ID)
	if res.EntityID != "" {
		fmt.Fprintf(w, "  entity %s", res.EntityID)
	}
	fmt.Fprintln(w)

	if s := res.Score; s != nil {
		fmt.Fprint(w, "  score ")
		_, _ = r.paint(scoreColor(s.Score)...).Fprintf(w, "%d/100", s.Score)
		fmt.Fprintf(w, "  confidence %s  coverage %.0f%%", s.Confidence, s.Coverage*100)
		if s.PartialEvidence {
			_, _ = r.paint(color.FgYellow).Fprint(w, "  partial evidence")
		}
		fmt.Fprintln(w)
	}

	for _, v := range res.Verdicts {
		fmt.Fprint(w, "  ")
		_, _ = r.paint(statusColor(v.Status)).Fprintf(w, "%-12s", v.Status)
		fmt.Fprintf(w, " %s\n", v.Rationale)
	}
	for _, sig := range res.Signals {
		_, _ = r.paint(color.FgMagenta).Fprintf(w, "  signal %s", sig.Kind)
		fmt.Fprintf(w, " magnitude %.1f confidence %.2f\n", sig.Magnitude, sig.Confidence)
	}
	for _, warning := range res.Warnings {
		_, _ = r.paint(color.FgYellow).Fprintf(w, "  ! %s\n", warning)
	}
}

func (r *Renderer) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if !r.colorEnabled {
		c.DisableColor()
	}
	return c
}

func scoreColor(score int) []color.Attribute {
	switch {
	case score >= 70:
		return []color.Attribute{color.FgGreen, color.Bold}
	case score >= 40:
		return []color.Attribute{color.FgYellow, color.Bold}
	default:
		return []color.Attribute{color.FgRed, color.Bold}
	}
}

func statusColor(s model.VerdictStatus) color.Attribute {
	switch s {
	case model.StatusConfirmed:
		return color.FgGreen
	case model.StatusContradicted:
		return color.FgRed
	default:
		return color.FgHiBlack
	}
}
