package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/pipeline"
	"github.com/ppiankov/credible/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	noProgress   bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <manifest>",
	Short: "Verify many documents from a manifest in parallel",
	Long: `Batch verifies every document listed in a manifest concurrently.
Each manifest line holds a file path or URL and an optional entity hint:

  # path-or-url               [entity]
  filings/q4-results.pdf      RELIANCE
  https://example.com/a.html  TCS

Documents about the same entity share one score history, so later
documents see the verdicts of earlier ones.

Example:
  credible batch manifest.txt
  credible batch manifest.txt --concurrency 8 --output-dir ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default: concurrency.workers)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./credible-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for the batch")
	batchCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
	batchCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	batchCmd.Flags().StringVar(&llmProvider, "llm", "", "explain each score with an LLM (openai, ollama, gemini)")
	batchCmd.Flags().StringVar(&llmModel, "llm-model", "", "LLM model name")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	rt, err := buildRuntime(ctx, func(cfg *model.Config) {
		applyLLMFlags(cfg)
		if noFooter {
			cfg.Output.IncludeFooter = false
		}
		if concurrency > 0 {
			cfg.Concurrency.Workers = concurrency
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	workers := rt.Config.Concurrency.Workers

	entries, err := worker.ReadManifest(file)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Credible Batch Verification\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Manifest:     %s (%d documents)\n", file, len(entries))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Vault:        %s\n", rt.Config.Vault.Backend)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	docs := make([]model.Document, 0, len(entries))
	paths := make([]string, 0, len(entries))
	loadFailures := 0
	for _, e := range entries {
		doc, err := rt.Fetcher.Load(ctx, e.Path, e.EntityHint)
		if err != nil {
			loadFailures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", e.Path, err)
			continue
		}
		docs = append(docs, doc)
		paths = append(paths, e.Path)
	}

	var progress io.Writer
	if !noProgress {
		progress = os.Stderr
	}
	results := rt.Pipeline.Batch(ctx, docs, workers, progress)
	fmt.Fprintln(os.Stderr)

	renderer := pipeline.NewRenderer(rt.Config.Output.IncludeFooter, rt.Config.Output.Color)
	successCount, failureCount := 0, loadFailures
	for _, r := range results {
		src := paths[r.Index]
		if r.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", src, r.Error)
			continue
		}

		slug := sanitizeFilename(reportName(r.Result))
		if err := renderer.WriteJSON(r.Result, filepath.Join(outputDir, slug+".json")); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", src, err)
			continue
		}
		if err := renderer.WriteMarkdown(r.Result, filepath.Join(outputDir, slug+".md")); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write Markdown: %v\n", src, err)
			continue
		}

		successCount++
		if s := r.Result.Score; s != nil {
			fmt.Fprintf(os.Stderr, "✓ %s (%s: %d/100, %s confidence)\n", src, nonEmpty(r.Result.EntityID, "no entity"), s.Score, s.Confidence)
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d documents\n", len(entries))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch interrupted: %w", err)
	}
	return nil
}

// reportName names a report after its entity and document
func reportName(res *pipeline.Result) string {
	id := res.Document.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if res.EntityID == "" {
		return id
	}
	return res.EntityID + "-" + id
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "-",
)

// sanitizeFilename sanitizes a string for use as a filename
func sanitizeFilename(s string) string {
	s = filenameReplacer.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, ".")
	if s == "" {
		s = "report"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
