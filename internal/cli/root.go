package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/pipeline"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile   string
	verbose   bool
	logFormat string
	noColor   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "credible",
	Short: "Credible - credibility verification for financial disclosures",
	Long: `Credible checks the quantitative claims in a corporate disclosure
against independent filings, validates the identifiers it names, and
discounts the result by market anomalies around the entity.

Every score carries the verdicts, signals and identifier checks that
produced it. A score is evidence of agreement, not a finding of fraud.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("credible v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.credible/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// secretEnv lists config keys that are only ever read from the environment,
// with the conventional provider variable as a fallback
var secretEnv = map[string]string{
	"extraction.openai_api_key":   "OPENAI_API_KEY",
	"extraction.gemini_api_key":   "GEMINI_API_KEY",
	"llm.api_key":                 "LLM_API_KEY",
	"vault.postgres_dsn":          "DATABASE_URL",
	"vault.s3_access_key":         "AWS_ACCESS_KEY_ID",
	"vault.s3_secret_key":         "AWS_SECRET_ACCESS_KEY",
	"anomaly.clickhouse.password": "CLICKHOUSE_PASSWORD",
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".credible"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// CREDIBLE_VAULT_BACKEND overrides vault.backend
	viper.SetEnvPrefix("CREDIBLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, fallback := range secretEnv {
		envKey := "CREDIBLE_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		_ = viper.BindEnv(key, envKey, fallback)
	}

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig merges defaults, the config file, environment and flags, then
// validates the result and initializes logging
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if noColor || os.Getenv("NO_COLOR") != "" {
		cfg.Output.Color = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Init(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Component: "credible"})
	return cfg, nil
}

// buildRuntime loads configuration and wires the pipeline
func buildRuntime(ctx context.Context, tweak func(*model.Config)) (*pipeline.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	rt, err := pipeline.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return rt, nil
}
