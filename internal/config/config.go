package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline" split_words:"true"`
	Source    SourceConfig    `yaml:"source" split_words:"true"`
	Universe  UniverseConfig  `yaml:"universe" split_words:"true"`
	Output    OutputConfig    `yaml:"output" split_words:"true"`
	Server    ServerConfig    `yaml:"server" split_words:"true"`
	Logging   LoggingConfig   `yaml:"logging" split_words:"true"`
	Telemetry TelemetryConfig `yaml:"telemetry" split_words:"true"`
	Paths     PathsConfig     `yaml:"paths" split_words:"true"`
}

// PipelineConfig controls the returns computation
type PipelineConfig struct {
	ToleranceDays int  `yaml:"tolerance_days" split_words:"true" validate:"gte=0"`
	Workers       int  `yaml:"workers" split_words:"true" validate:"gte=0"`
	Strict        bool `yaml:"strict" split_words:"true"`
}

// SourceConfig selects and tunes the price history source
type SourceConfig struct {
	Provider    string      `yaml:"provider" split_words:"true" validate:"oneof=csv eodhd"`
	CSVPath     string      `yaml:"csv_path" split_words:"true" validate:"required_if=Provider csv"`
	BatchSize   int         `yaml:"batch_size" split_words:"true" validate:"gt=0"`
	Concurrency int         `yaml:"concurrency" split_words:"true" validate:"gt=0"`
	EODHD       EODHDConfig `yaml:"eodhd" split_words:"true"`
	Cache       CacheConfig `yaml:"cache" split_words:"true"`
}

// EODHDConfig configures the EODHD end-of-day API client
type EODHDConfig struct {
	APIKey    string        `yaml:"api_key" split_words:"true"`
	BaseURL   string        `yaml:"base_url" split_words:"true" validate:"omitempty,url"`
	Exchange  string        `yaml:"exchange" split_words:"true"`
	RateLimit int           `yaml:"rate_limit" split_words:"true" validate:"gt=0"`
	Timeout   time.Duration `yaml:"timeout" split_words:"true" validate:"gt=0"`
	// From and To bound the requested history (YYYY-MM-DD, inclusive). Empty is open.
	From       string `yaml:"from" split_words:"true" validate:"omitempty,datetime=2006-01-02"`
	To         string `yaml:"to" split_words:"true" validate:"omitempty,datetime=2006-01-02"`
	MaxRetries int    `yaml:"max_retries" split_words:"true" validate:"gte=0"`
}

// CacheConfig configures the on-disk price history cache
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Dir     string `yaml:"dir" split_words:"true"`
	Refresh bool   `yaml:"refresh" split_words:"true"`
}

// UniverseConfig selects the symbols to process
type UniverseConfig struct {
	File              string   `yaml:"file" split_words:"true"`
	Symbols           []string `yaml:"symbols" split_words:"true" validate:"dive,required"`
	ExcludeTestIssues bool     `yaml:"exclude_test_issues" split_words:"true"`
}

// OutputConfig controls where the returns table is written
type OutputConfig struct {
	Format string `yaml:"format" split_words:"true" validate:"oneof=csv xlsx sqlite"`
	Path   string `yaml:"path" split_words:"true" validate:"required"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" split_words:"true" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" split_words:"true" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" split_words:"true"`
	RunTimeout      time.Duration   `yaml:"run_timeout" split_words:"true"`
	ExportOnRun     bool            `yaml:"export_on_run" split_words:"true"`
	LoadOnStart     string          `yaml:"load_on_start" split_words:"true"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" split_words:"true"`
	AllowedOrigins  []string        `yaml:"allowed_origins" split_words:"true"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" split_words:"true"`
	RPS     float64 `yaml:"rps" split_words:"true" validate:"gte=0"`
	Burst   int     `yaml:"burst" split_words:"true" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" split_words:"true" validate:"oneof=json text"`
	Output   string `yaml:"output" split_words:"true" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" split_words:"true" validate:"required"`
	Environment    string  `yaml:"environment" split_words:"true"`
	EnableTracing  bool    `yaml:"enable_tracing" split_words:"true"`
	EnableMetrics  bool    `yaml:"enable_metrics" split_words:"true"`
	TraceExporter  string  `yaml:"trace_exporter" split_words:"true" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" split_words:"true" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" split_words:"true" validate:"gte=0,lte=1"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	BaseDir string `yaml:"base_dir" split_words:"true"`
	DataDir string `yaml:"data_dir" split_words:"true"`
	LogsDir string `yaml:"logs_dir" split_words:"true"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence, and validates the result.
// An empty path searches the usual locations; a missing file there is not an
// error.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated merges the same sources as Load but leaves validation to
// the caller, for drivers that overlay flags before checking the result.
func LoadUnvalidated(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields without a matching variable are left untouched, so the
	// environment only overrides what it sets.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// findConfigFile returns the first config file found in common locations
func findConfigFile() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Source.Provider == ProviderEODHD && c.Source.EODHD.APIKey == "" {
		return fmt.Errorf("source.eodhd.api_key is required for provider %q", ProviderEODHD)
	}

	if c.Source.Provider == ProviderEODHD && c.Universe.File == "" && len(c.Universe.Symbols) == 0 {
		return fmt.Errorf("provider %q needs a symbol universe (universe.file or universe.symbols)", ProviderEODHD)
	}

	if c.Source.Cache.Enabled && c.Source.Cache.Dir == "" {
		return fmt.Errorf("source.cache.dir is required when the cache is enabled")
	}

	return nil
}

// EffectiveWorkers returns the configured worker count, defaulting to the CPU count
func (c PipelineConfig) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			ToleranceDays: DefaultToleranceDays,
			Workers:       0,
			Strict:        false,
		},
		Source: SourceConfig{
			Provider:    ProviderCSV,
			CSVPath:     "data/prices.csv",
			BatchSize:   DefaultBatchSize,
			Concurrency: DefaultFetchConcurrency,
			EODHD: EODHDConfig{
				BaseURL:   DefaultEODHDBaseURL,
				Exchange:  "US",
				RateLimit: DefaultEODHDRateLimit,
				Timeout:   DefaultHTTPTimeout,
			},
			Cache: CacheConfig{
				Enabled: false,
				Dir:     "data/cache/prices",
			},
		},
		Universe: UniverseConfig{
			ExcludeTestIssues: false,
		},
		Output: OutputConfig{
			Format: FormatCSV,
			Path:   "data/reports/returns.csv",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RunTimeout:      DefaultRunTimeout,
			ExportOnRun:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/returns.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			Environment:    "development",
			EnableTracing:  false,
			EnableMetrics:  true,
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Paths: PathsConfig{
			BaseDir: ".",
			DataDir: "data",
			LogsDir: "logs",
		},
	}
}
