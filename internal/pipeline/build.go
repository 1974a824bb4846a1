package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/credible/internal/anomaly"
	"github.com/ppiankov/credible/internal/cache"
	"github.com/ppiankov/credible/internal/crosscheck"
	"github.com/ppiankov/credible/internal/extract"
	"github.com/ppiankov/credible/internal/identifier"
	"github.com/ppiankov/credible/internal/llm"
	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/score"
	"github.com/ppiankov/credible/internal/util"
	"github.com/ppiankov/credible/internal/vault"
	"github.com/ppiankov/credible/internal/worker"
)

// Runtime holds the long-lived collaborators built from configuration
type Runtime struct {
	Config    *model.Config
	Pipeline  *Pipeline
	Fetcher   *Fetcher
	Validator *identifier.Validator
	Vault     *vault.Vault
	Book      *anomaly.SignalBook
	Scorer    *anomaly.Scorer  // nil without a market source
	Monitor   *anomaly.Monitor // nil without a market source

	closers []func() error
}

// Close releases connections in reverse order of creation
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Build wires every component selected by cfg. Optional collaborators that
// fail to initialize (the LLM explainer) are logged and skipped; the rest
// fail the build.
func Build(ctx context.Context, cfg *model.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Book: anomaly.NewSignalBook()}
	built := false
	defer func() {
		if !built {
			_ = rt.Close()
		}
	}()

	store := buildCache(cfg.Cache)

	extractor, err := rt.buildExtractor(ctx, cfg.Extraction, store, cfg.Cache.DiskTTL)
	if err != nil {
		return nil, err
	}

	httpClient := util.NewHTTPClient(cfg.Registry.Retry.Timeout, cfg.Registry.HTTPProxy, cfg.Registry.HTTPSProxy)
	var robots *util.RobotsChecker
	if cfg.Registry.RespectRobots {
		robots = util.NewRobotsChecker(cfg.Registry.UserAgent, httpClient, time.Hour)
	}

	// One limiter paces every outbound host; GLEIF gets its configured rate
	limiter := worker.NewLimiter(cfg.Extraction.FetchRatePerHost, 2)
	limiter.SetRate("gleif", cfg.Registry.RequestsPerSecond, cfg.Registry.BurstSize)

	registry, err := buildRegistry(cfg.Registry, httpClient, robots, limiter)
	if err != nil {
		return nil, err
	}
	rt.Validator = identifier.NewValidator(registry,
		identifier.WithCache(store),
		identifier.WithTTL(cfg.Registry.CacheTTL),
		identifier.WithRetry(worker.PolicyFrom(cfg.Registry.Retry)),
		identifier.WithLogger(logging.Named("identifier")),
	)

	parser := extract.NewClaimParser(
		extract.WithFiscalYearEnd(time.Month(cfg.Extraction.FiscalYearEndMonth)),
		extract.WithLowConfidenceThreshold(cfg.Extraction.LowConfidenceThreshold),
		extract.WithDefaultCurrency(cfg.Extraction.DefaultCurrency),
	)

	var sources []crosscheck.ReferenceSource
	if cfg.CrossCheck.ReferencesFile != "" {
		refs, err := crosscheck.LoadReferences(expandHome(cfg.CrossCheck.ReferencesFile), crosscheck.NewTierClassifier(cfg.CrossCheck))
		if err != nil {
			return nil, fmt.Errorf("load references: %w", err)
		}
		sources = append(sources, refs)
	}
	checker := crosscheck.NewChecker(cfg.CrossCheck, sources,
		crosscheck.WithHistory(crosscheck.NewHistorySource()),
		crosscheck.WithCheckerLogger(logging.Named("crosscheck")),
	)

	opts := []Option{WithSignalBook(rt.Book), WithLogger(logging.Named("pipeline"))}

	if err := rt.buildMarket(ctx, cfg.Anomaly); err != nil {
		return nil, err
	}
	if rt.Scorer != nil {
		opts = append(opts, WithMarketScorer(rt.Scorer), WithMonitor(rt.Monitor))
	}

	backend, closeBackend, err := vault.OpenBackend(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	rt.closers = append(rt.closers, closeBackend)
	rt.Vault = vault.New(backend, vault.WithLogger(logging.Named("vault")))
	opts = append(opts, WithVault(rt.Vault))

	if cfg.LLM.Provider != "" {
		explainer, err := llm.NewExplainer(ctx, llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			logging.Named("pipeline").Warn().Err(err).Msg("LLM explanations disabled")
		} else {
			opts = append(opts, WithExplainer(explainer))
		}
	}

	rt.Fetcher = NewFetcher(cfg.Extraction.Retry.Timeout, cfg.Registry.UserAgent, cfg.Extraction.MaxBytes,
		cfg.Registry.HTTPProxy, cfg.Registry.HTTPSProxy,
		WithRobots(robots),
		WithLimiter(limiter),
		WithFetchRetry(worker.PolicyFrom(cfg.Extraction.Retry)),
	)

	rt.Pipeline = New(extractor, rt.Validator, parser, checker, score.NewAggregator(cfg.Scoring), opts...)
	built = true
	return rt, nil
}

func buildCache(cfg model.CacheConfig) cache.Cache {
	if cfg.Enabled && cfg.Dir != "" {
		return cache.NewMemoryDiskCache(cfg.MemoryTTL, expandHome(cfg.Dir), cfg.DiskTTL)
	}
	return cache.NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
}

func (rt *Runtime) buildExtractor(ctx context.Context, cfg model.ExtractionConfig, store cache.Cache, ttl time.Duration) (*extract.Extractor, error) {
	opts := []extract.ExtractorOption{
		extract.WithStrategy(model.MediaText, extract.NewTextStrategy()),
		extract.WithRetryPolicy(worker.PolicyFrom(cfg.Retry)),
		extract.WithMaxBytes(cfg.MaxBytes),
		extract.WithResultCache(store, ttl),
		extract.WithExtractorLogger(logging.Named("extract")),
	}

	var openaiProvider *extract.OpenAIProvider
	openAI := func() (*extract.OpenAIProvider, error) {
		if openaiProvider != nil {
			return openaiProvider, nil
		}
		p, err := extract.NewOpenAIProvider(extract.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			VisionModel: cfg.OCRModel,
			SpeechModel: cfg.ASRModel,
		})
		openaiProvider = p
		return p, err
	}

	switch cfg.OCRProvider {
	case "openai":
		p, err := openAI()
		if err != nil {
			return nil, fmt.Errorf("ocr provider: %w", err)
		}
		opts = append(opts, extract.WithStrategy(model.MediaImage, extract.NewOCRStrategy(p)))
	case "gemini":
		p, err := extract.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.OCRModel)
		if err != nil {
			return nil, fmt.Errorf("ocr provider: %w", err)
		}
		rt.closers = append(rt.closers, p.Close)
		opts = append(opts, extract.WithStrategy(model.MediaImage, extract.NewOCRStrategy(p)))
	}

	if cfg.ASRProvider == "openai" {
		p, err := openAI()
		if err != nil {
			return nil, fmt.Errorf("asr provider: %w", err)
		}
		speech := extract.NewSpeechStrategy(p)
		opts = append(opts,
			extract.WithStrategy(model.MediaAudio, speech),
			extract.WithStrategy(model.MediaVideo, speech),
		)
	}
	return extract.NewExtractor(opts...), nil
}

func buildRegistry(cfg model.RegistryConfig, client *http.Client, robots *util.RobotsChecker, limiter *worker.Limiter) (*identifier.Router, error) {
	router := identifier.NewRouter()
	if cfg.StaticFile != "" {
		static, err := identifier.LoadStaticRegistry(expandHome(cfg.StaticFile))
		if err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
		for _, kind := range []model.IdentifierKind{model.KindISIN, model.KindLEI, model.KindCIN, model.KindSEBI} {
			router.Route(kind, static)
		}
	}
	if cfg.GLEIFEnabled {
		router.Route(model.KindLEI, identifier.NewGLEIFRegistry(identifier.GLEIFOptions{
			BaseURL:    cfg.GLEIFBaseURL,
			HTTPClient: client,
			Limiter:    limiter,
			Robots:     robots,
			UserAgent:  cfg.UserAgent,
		}))
	}
	return router, nil
}

func (rt *Runtime) buildMarket(ctx context.Context, cfg model.AnomalyConfig) error {
	var source anomaly.MarketSource
	switch cfg.Source {
	case "clickhouse":
		src, err := anomaly.NewClickHouseSource(ctx, cfg.ClickHouse)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, src.Close)
		source = src
	case "", "csv":
		if cfg.MarketDir == "" {
			return nil
		}
		source = anomaly.NewCSVSource(expandHome(cfg.MarketDir))
	default:
		return fmt.Errorf("unknown market source: %s (supported: csv, clickhouse)", cfg.Source)
	}

	rt.Scorer = anomaly.NewScorer(source, cfg, anomaly.WithScorerLogger(logging.Named("anomaly")))
	rt.Monitor = anomaly.NewMonitor(rt.Scorer, rt.Book, cfg,
		anomaly.WithMonitorLogger(logging.Named("monitor")),
		anomaly.WithOnChange(rt.rescore),
	)
	return nil
}

// rescore seals a new score version when scheduled market scoring changes
// an entity's signals
func (rt *Runtime) rescore(ctx context.Context, entityID string) {
	if rt.Pipeline == nil {
		return
	}
	if _, err := rt.Pipeline.Rescore(ctx, entityID); err != nil {
		logging.Named("monitor").Warn().Err(err).Str("entity", entityID).Msg("rescore failed")
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
