package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete Credible configuration
type Config struct {
	Extraction  ExtractionConfig  `yaml:"extraction" mapstructure:"extraction"`
	Registry    RegistryConfig    `yaml:"registry" mapstructure:"registry"`
	CrossCheck  CrossCheckConfig  `yaml:"crosscheck" mapstructure:"crosscheck"`
	Anomaly     AnomalyConfig     `yaml:"anomaly" mapstructure:"anomaly"`
	Scoring     ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Vault       VaultConfig       `yaml:"vault" mapstructure:"vault"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	API         APIConfig         `yaml:"api" mapstructure:"api"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
}

// RetryConfig bounds a blocking external call
type RetryConfig struct {
	Attempts  int           `yaml:"attempts" mapstructure:"attempts" validate:"min=1,max=10"`
	BaseDelay time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
}

// ExtractionConfig configures text extraction and claim parsing
type ExtractionConfig struct {
	OCRProvider            string      `yaml:"ocr_provider" mapstructure:"ocr_provider" validate:"omitempty,oneof=openai gemini"`
	ASRProvider            string      `yaml:"asr_provider" mapstructure:"asr_provider" validate:"omitempty,oneof=openai"`
	OCRModel               string      `yaml:"ocr_model" mapstructure:"ocr_model"`
	ASRModel               string      `yaml:"asr_model" mapstructure:"asr_model"`
	OpenAIBaseURL          string      `yaml:"openai_base_url,omitempty" mapstructure:"openai_base_url"`
	OpenAIAPIKey           string      `yaml:"-" mapstructure:"openai_api_key"`
	GeminiAPIKey           string      `yaml:"-" mapstructure:"gemini_api_key"`
	MaxBytes               int64       `yaml:"max_bytes" mapstructure:"max_bytes" validate:"gt=0"`
	Retry                  RetryConfig `yaml:"retry" mapstructure:"retry"`
	LowConfidenceThreshold float64     `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold" validate:"gte=0,lte=1"`
	FiscalYearEndMonth     int         `yaml:"fiscal_year_end_month" mapstructure:"fiscal_year_end_month" validate:"min=1,max=12"`
	DefaultCurrency        string      `yaml:"default_currency" mapstructure:"default_currency"`
	FetchRatePerHost       float64     `yaml:"fetch_rate_per_host" mapstructure:"fetch_rate_per_host" validate:"gt=0"` // URL fetches per second per host
}

// RegistryConfig configures identifier resolution
type RegistryConfig struct {
	StaticFile        string        `yaml:"static_file,omitempty" mapstructure:"static_file"`
	GLEIFEnabled      bool          `yaml:"gleif_enabled" mapstructure:"gleif_enabled"`
	GLEIFBaseURL      string        `yaml:"gleif_base_url" mapstructure:"gleif_base_url" validate:"omitempty,url"`
	CacheTTL          time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"gt=0"`
	Retry             RetryConfig   `yaml:"retry" mapstructure:"retry"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size" validate:"gt=0"`
	RespectRobots     bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPProxy         string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// CrossCheckConfig configures claim-vs-filing comparison
type CrossCheckConfig struct {
	ReferencesFile      string  `yaml:"references_file,omitempty" mapstructure:"references_file"`
	RelativeTolerance   float64 `yaml:"relative_tolerance" mapstructure:"relative_tolerance" validate:"gte=0,lt=1"`
	DateWindowDays      int     `yaml:"date_window_days" mapstructure:"date_window_days" validate:"gte=0"`
	IdentifierDiscount  float64 `yaml:"identifier_discount" mapstructure:"identifier_discount" validate:"gte=0,lte=1"`
	RecordConfirmations bool    `yaml:"record_confirmations" mapstructure:"record_confirmations"`
	// Tier assignment for reference records filed without an explicit tier
	RegulatorDomains []string          `yaml:"regulator_domains" mapstructure:"regulator_domains"`
	ExchangeDomains  []string          `yaml:"exchange_domains" mapstructure:"exchange_domains"`
	DomainMap        map[string]string `yaml:"domain_map,omitempty" mapstructure:"domain_map"`
	// Sector to regulator domains. A sector regulator's publications are
	// primary filings only for entities in that sector.
	SectorRegulators map[string][]string `yaml:"sector_regulators,omitempty" mapstructure:"sector_regulators"`
	// A disclosed figure deviating from the mean of the entity's earlier
	// filings by more than this fraction raises a filing-deviation signal
	DeviationThreshold float64 `yaml:"deviation_threshold" mapstructure:"deviation_threshold" validate:"gt=0"`
}

// ClickHouseConfig locates the market-data warehouse
type ClickHouseConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Database string `yaml:"database" mapstructure:"database"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"-" mapstructure:"password"`
	Table    string `yaml:"table" mapstructure:"table"`
}

// AnomalyConfig configures market-behaviour scoring
type AnomalyConfig struct {
	Source             string              `yaml:"source" mapstructure:"source" validate:"omitempty,oneof=csv clickhouse"`
	MarketDir          string              `yaml:"market_dir,omitempty" mapstructure:"market_dir"`
	ClickHouse         ClickHouseConfig    `yaml:"clickhouse" mapstructure:"clickhouse"`
	Lookback           int                 `yaml:"lookback" mapstructure:"lookback" validate:"min=2"`
	ZThreshold         float64             `yaml:"z_threshold" mapstructure:"z_threshold" validate:"gt=0"`
	MinVolumeRatio     float64             `yaml:"min_volume_ratio" mapstructure:"min_volume_ratio" validate:"gte=1"`
	MinStdFraction     float64             `yaml:"min_std_fraction" mapstructure:"min_std_fraction" validate:"gte=0"`
	CoordinationWindow time.Duration       `yaml:"coordination_window" mapstructure:"coordination_window" validate:"gte=0"`
	MinCorrelated      int                 `yaml:"min_correlated" mapstructure:"min_correlated" validate:"min=1"`
	Linkage            map[string][]string `yaml:"linkage,omitempty" mapstructure:"linkage"`
	Watch              []string            `yaml:"watch,omitempty" mapstructure:"watch"`
	Interval           time.Duration       `yaml:"interval" mapstructure:"interval" validate:"gt=0"`
	WindowDays         int                 `yaml:"window_days" mapstructure:"window_days" validate:"gt=0"`
	MAPeriod           int                 `yaml:"ma_period" mapstructure:"ma_period" validate:"min=2"`
	RSIPeriod          int                 `yaml:"rsi_period" mapstructure:"rsi_period" validate:"min=2"`
}

// ScoringConfig holds every aggregation weight. None are hardcoded elsewhere.
type ScoringConfig struct {
	Base                float64            `yaml:"base" mapstructure:"base" validate:"gte=0,lte=100"`
	ConfirmReward       float64            `yaml:"confirm_reward" mapstructure:"confirm_reward" validate:"gt=0"`
	ContradictPenalty   float64            `yaml:"contradict_penalty" mapstructure:"contradict_penalty" validate:"gt=0"`
	IdentifierPenalty   float64            `yaml:"identifier_penalty" mapstructure:"identifier_penalty" validate:"gte=0"`
	Materiality         map[string]float64 `yaml:"materiality" mapstructure:"materiality"`
	DefaultMateriality  float64            `yaml:"default_materiality" mapstructure:"default_materiality" validate:"gt=0"`
	LowConfidenceFactor float64            `yaml:"low_confidence_factor" mapstructure:"low_confidence_factor" validate:"gte=0,lte=1"`
	MaxAnomalyDiscount  float64            `yaml:"max_anomaly_discount" mapstructure:"max_anomaly_discount" validate:"gte=0,lt=1"`
	MagnitudeSaturation float64            `yaml:"magnitude_saturation" mapstructure:"magnitude_saturation" validate:"gt=0"`
	KindWeights         map[string]float64 `yaml:"kind_weights" mapstructure:"kind_weights"`
	DocumentFloor       float64            `yaml:"document_floor" mapstructure:"document_floor" validate:"gte=0,lt=100"`
	MaxSignalAge        time.Duration      `yaml:"max_signal_age" mapstructure:"max_signal_age" validate:"gt=0"`
	MaxMarketLag        time.Duration      `yaml:"max_market_lag" mapstructure:"max_market_lag" validate:"gt=0"` // Market data older than this is stale
}

// VaultConfig selects the evidence vault backend
type VaultConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory disk postgres s3"`
	Dir         string `yaml:"dir,omitempty" mapstructure:"dir"`
	PostgresDSN string `yaml:"-" mapstructure:"postgres_dsn"`
	S3Bucket    string `yaml:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3Region    string `yaml:"s3_region,omitempty" mapstructure:"s3_region"`
	S3Prefix    string `yaml:"s3_prefix,omitempty" mapstructure:"s3_prefix"`
	S3Endpoint  string `yaml:"s3_endpoint,omitempty" mapstructure:"s3_endpoint"` // S3-compatible stores such as MinIO
	S3AccessKey string `yaml:"-" mapstructure:"s3_access_key"`
	S3SecretKey string `yaml:"-" mapstructure:"s3_secret_key"`
}

// CacheConfig configures the extraction and registry caches
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ConcurrencyConfig controls document-level parallelism
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers" validate:"min=1"`
}

// APIConfig configures the HTTP submission API
type APIConfig struct {
	Addr           string        `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gt=0"`
}

// LLMConfig configures the optional score explanation (never affects the score)
type LLMConfig struct {
	Provider       string `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=openai ollama gemini"`
	Model          string `yaml:"model" mapstructure:"model"`
	APIKey         string `yaml:"-" mapstructure:"api_key"`
	BaseURL        string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout        int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	StrictEvidence bool   `yaml:"strict_evidence" mapstructure:"strict_evidence"`
	MaxTokens      int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=console json"`
}

// OutputConfig configures report rendering
type OutputConfig struct {
	Verbose       bool `yaml:"verbose" mapstructure:"verbose"`
	IncludeFooter bool `yaml:"include_footer" mapstructure:"include_footer"`
	Color         bool `yaml:"color" mapstructure:"color"`
}

// DefaultConfig returns illustrative defaults; every weight is overridable
func DefaultConfig() *Config {
	retry := RetryConfig{Attempts: 3, BaseDelay: 500 * time.Millisecond, Timeout: 30 * time.Second}

	return &Config{
		Extraction: ExtractionConfig{
			OCRModel:               "gpt-4o-mini",
			ASRModel:               "whisper-1",
			MaxBytes:               50_000_000,
			Retry:                  retry,
			LowConfidenceThreshold: 0.6,
			FiscalYearEndMonth:     3,
			DefaultCurrency:        "INR",
			FetchRatePerHost:       1,
		},
		Registry: RegistryConfig{
			GLEIFBaseURL:      "https://api.gleif.org/api/v1",
			CacheTTL:          6 * time.Hour,
			Retry:             RetryConfig{Attempts: 3, BaseDelay: 500 * time.Millisecond, Timeout: 10 * time.Second},
			RequestsPerSecond: 2,
			BurstSize:         5,
			RespectRobots:     true,
			UserAgent:         "Credible/0.1 (+https://github.com/ppiankov/credible)",
		},
		CrossCheck: CrossCheckConfig{
			RelativeTolerance:   0.01,
			DateWindowDays:      31,
			IdentifierDiscount:  0.5,
			RecordConfirmations: true,
			RegulatorDomains: []string{
				"sebi.gov.in", "mca.gov.in", "sec.gov", "fca.org.uk", "gleif.org",
			},
			ExchangeDomains: []string{
				"nseindia.com", "bseindia.com", "nasdaq.com", "nyse.com", "londonstockexchange.com",
			},
			SectorRegulators: map[string][]string{
				"banking":    {"rbi.org.in"},
				"nbfc":       {"rbi.org.in"},
				"insurance":  {"irdai.gov.in"},
				"pension":    {"pfrda.org.in"},
				"securities": {"sebi.gov.in"},
				"telecom":    {"trai.gov.in"},
				"power":      {"cercind.gov.in"},
				"pharma":     {"cdsco.gov.in"},
			},
			DeviationThreshold: 0.2,
		},
		Anomaly: AnomalyConfig{
			Source:             "csv",
			Lookback:           20,
			ZThreshold:         3,
			MinVolumeRatio:     2,
			MinStdFraction:     0.01,
			CoordinationWindow: 24 * time.Hour,
			MinCorrelated:      1,
			Interval:           15 * time.Minute,
			WindowDays:         90,
			MAPeriod:           20,
			RSIPeriod:          14,
		},
		Scoring: ScoringConfig{
			Base:              50,
			ConfirmReward:     10,
			ContradictPenalty: 25,
			IdentifierPenalty: 10,
			Materiality: map[string]float64{
				string(MetricRevenue):     1.0,
				string(MetricTotalIncome): 0.9,
				string(MetricNetProfit):   1.0,
				string(MetricEBITDA):      0.8,
				string(MetricEPS):         0.8,
				string(MetricOrderValue):  0.7,
				string(MetricDebt):        0.7,
				string(MetricStake):       0.6,
				string(MetricDividend):    0.5,
			},
			DefaultMateriality:  0.5,
			LowConfidenceFactor: 0.5,
			MaxAnomalyDiscount:  0.4,
			MagnitudeSaturation: 10,
			KindWeights: map[string]float64{
				string(SignalPriceSpike):        0.6,
				string(SignalVolumeSpike):       0.6,
				string(SignalCorrelatedTrading): 0.9,
				string(SignalToneContradiction): 0.4,
				string(SignalHypeLanguage):      0.5,
				string(SignalFilingDeviation):   0.3,
			},
			DocumentFloor: 5,
			MaxSignalAge:  30 * 24 * time.Hour,
			MaxMarketLag:  24 * time.Hour,
		},
		Vault: VaultConfig{
			Backend:  "memory",
			Dir:      "./credible-vault",
			S3Region: "ap-south-1",
			S3Prefix: "credible/",
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "~/.cache/credible",
			MemoryTTL: time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{Workers: 4},
		API: APIConfig{
			Addr:           ":8088",
			AllowedOrigins: []string{"*"},
			RequestTimeout: 2 * time.Minute,
		},
		LLM: LLMConfig{
			Timeout:        30,
			StrictEvidence: true,
			MaxTokens:      800,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Output:  OutputConfig{IncludeFooter: true, Color: true},
	}
}

var configValidator = validator.New()

// Validate checks struct constraints and the cross-field scoring invariants
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Scoring.ContradictPenalty <= c.Scoring.ConfirmReward {
		return fmt.Errorf("invalid config: scoring.contradict_penalty (%.2f) must exceed scoring.confirm_reward (%.2f)",
			c.Scoring.ContradictPenalty, c.Scoring.ConfirmReward)
	}
	if c.Anomaly.Source == "clickhouse" && c.Anomaly.ClickHouse.Addr == "" {
		return fmt.Errorf("invalid config: anomaly.clickhouse.addr is required for the clickhouse source")
	}
	switch c.Vault.Backend {
	case "postgres":
		if c.Vault.PostgresDSN == "" {
			return fmt.Errorf("invalid config: vault.postgres_dsn is required for the postgres backend")
		}
	case "s3":
		if c.Vault.S3Bucket == "" {
			return fmt.Errorf("invalid config: vault.s3_bucket is required for the s3 backend")
		}
	}
	return nil
}

// MaterialityOf returns the configured materiality weight for a metric
func (s ScoringConfig) MaterialityOf(metric Metric) float64 {
	if w, ok := s.Materiality[string(metric)]; ok {
		return w
	}
	return s.DefaultMateriality
}

// KindWeight returns the configured weight for a signal kind (1.0 if unset)
func (s ScoringConfig) KindWeight(kind SignalKind) float64 {
	if w, ok := s.KindWeights[string(kind)]; ok {
		return w
	}
	return 1.0
}
