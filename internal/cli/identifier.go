package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credible/internal/model"
)

var identifierJSON bool

var identifierCmd = &cobra.Command{
	Use:   "identifier",
	Short: "Work with financial identifiers",
}

var identifierValidateCmd = &cobra.Command{
	Use:   "validate <kind> <value>",
	Short: "Validate an ISIN, LEI, CIN or SEBI registration number",
	Long: `Validate checks the identifier's checksum or format and, when it passes,
resolves it against the configured registries.

Example:
  credible identifier validate ISIN INE002A01018
  credible identifier validate LEI 5493001KJTIIGC8Y1R12 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentifierValidate,
}

var identifierRefreshCmd = &cobra.Command{
	Use:   "refresh [<kind> <value>]",
	Short: "Reload registry snapshots and drop cached identifier answers",
	Long: `Refresh re-reads file-backed registries and empties the identifier cache,
so delisted or renamed entities stop resolving from stale entries. With a
kind and value only that identifier's cached answer is dropped.

A running server reloads the same way on SIGHUP or POST /v1/registry/refresh.

Example:
  credible identifier refresh
  credible identifier refresh ISIN INE002A01018`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("accepts no arguments or <kind> <value>, received %d", len(args))
		}
		return nil
	},
	RunE: runIdentifierRefresh,
}

func init() {
	rootCmd.AddCommand(identifierCmd)
	identifierCmd.AddCommand(identifierValidateCmd)
	identifierCmd.AddCommand(identifierRefreshCmd)
	identifierValidateCmd.Flags().BoolVar(&identifierJSON, "json", false, "print the result as JSON")
}

func runIdentifierValidate(cmd *cobra.Command, args []string) error {
	kind, err := model.ParseIdentifierKind(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	id := rt.Validator.Validate(ctx, kind, args[1])
	if identifierJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(id)
	}

	fmt.Printf("%s %s\n", id.Kind, id.Value)
	if !id.Valid {
		fmt.Printf("  invalid: %s\n", id.Reason)
		return nil
	}
	fmt.Printf("  checksum: ok\n  registry: %s\n", id.RegistryMatch)
	if id.Record != nil {
		fmt.Printf("  entity:   %s (%s)\n", id.Record.EntityID, id.Record.Name)
	}
	for _, c := range id.Candidates {
		fmt.Printf("  candidate: %s (%s)\n", c.EntityID, c.Name)
	}
	return nil
}

func runIdentifierRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if len(args) == 2 {
		kind, err := model.ParseIdentifierKind(args[0])
		if err != nil {
			return err
		}
		if err := rt.Validator.Invalidate(kind, args[1]); err != nil {
			return fmt.Errorf("invalidate %s %s: %w", kind, args[1], err)
		}
		fmt.Printf("dropped cached answer for %s %s\n", kind, args[1])
		return nil
	}

	if err := rt.Validator.Refresh(ctx); err != nil {
		return err
	}
	fmt.Println("registries reloaded, identifier cache cleared")
	return nil
}
