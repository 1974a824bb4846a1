package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/vault"
)

var historyCmd = &cobra.Command{
	Use:   "history <entity>",
	Short: "Show every stored score version for an entity",
	Long: `History lists the score versions held in the evidence vault, oldest
first, and re-checks the content hash of each one.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	entity := strings.ToUpper(args[0])
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	history, err := rt.Vault.ScoreHistory(ctx, entity)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("no scores for %s: %w", entity, model.ErrNotFound)
	}

	fmt.Printf("%-8s %-6s %-8s %-9s %-20s %s\n", "VERSION", "SCORE", "CONF", "VERDICTS", "COMPUTED", "HASH")
	var tampered []error
	for _, s := range history {
		status := s.Hash
		if len(status) > 12 {
			status = status[:12]
		}
		if err := vault.VerifyScore(s); err != nil {
			status = "TAMPERED"
			tampered = append(tampered, err)
		}
		fmt.Printf("%-8d %-6d %-8s %-9d %-20s %s\n",
			s.Version, s.Score, s.Confidence, len(s.Verdicts), s.ComputedAt.Format("2006-01-02 15:04:05"), status)
	}
	return errors.Join(tampered...)
}
