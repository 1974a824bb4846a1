package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/pipeline"
)

var (
	outJSON     string
	outMD       string
	entityHint  string
	mediaKind   string
	timeout     time.Duration
	noFooter    bool
	llmProvider string
	llmModel    string
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <file|url>",
	Short: "Verify one disclosure and score its credibility",
	Long: `Verify runs a single document through the pipeline:
- Extract text (PDF/HTML/plain text, OCR for images, ASR for audio/video)
- Validate the ISIN/LEI/CIN/SEBI identifiers it names
- Parse quantitative claims and cross-check them against filings
- Discount the result by market anomalies around the entity
- Append verdicts and the new score version to the evidence vault

Example:
  credible verify results-q4.pdf --entity RELIANCE
  credible verify https://example.com/notice.html --json score.json --md score.md
  credible verify call.mp3 --media audio --llm openai`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path")
	verifyCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path")
	verifyCmd.Flags().StringVar(&entityHint, "entity", "", "subject entity (otherwise taken from the identifiers in the document)")
	verifyCmd.Flags().StringVar(&mediaKind, "media", "", "override media kind: text, image, audio, video")
	verifyCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall verification timeout")
	verifyCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
	verifyCmd.Flags().StringVar(&llmProvider, "llm", "", "explain the score with an LLM (openai, ollama, gemini)")
	verifyCmd.Flags().StringVar(&llmModel, "llm-model", "", "LLM model name")
}

// applyLLMFlags enables the explainer from command-line flags
func applyLLMFlags(cfg *model.Config) {
	if llmProvider == "" {
		return
	}
	cfg.LLM.Provider = llmProvider
	if llmModel != "" {
		cfg.LLM.Model = llmModel
	}
	cfg.LLM.StrictEvidence = true
	if cfg.LLM.APIKey == "" {
		switch llmProvider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		case "ollama":
			cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	src := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	rt, err := buildRuntime(ctx, func(cfg *model.Config) {
		applyLLMFlags(cfg)
		if noFooter {
			cfg.Output.IncludeFooter = false
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if verbose {
		fmt.Fprintf(os.Stderr, "Verifying: %s\n", src)
		fmt.Fprintf(os.Stderr, "Timeout:   %v\n", timeout)
		fmt.Fprintf(os.Stderr, "Vault:     %s\n\n", rt.Config.Vault.Backend)
	}

	doc, err := rt.Fetcher.Load(ctx, src, entityHint)
	if err != nil {
		return fmt.Errorf("load %s: %w", src, err)
	}
	if mediaKind != "" {
		if doc.MediaKind, err = model.ParseMediaKind(mediaKind); err != nil {
			return err
		}
	}

	res, err := rt.Pipeline.Verify(ctx, doc)
	if err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}

	renderer := pipeline.NewRenderer(rt.Config.Output.IncludeFooter, rt.Config.Output.Color)
	renderer.Summary(os.Stdout, res)

	if outJSON != "" {
		if err := renderer.WriteJSON(res, outJSON); err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", outJSON)
		}
	}
	if outMD != "" {
		if err := renderer.WriteMarkdown(res, outMD); err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", outMD)
		}
	}
	return nil
}
