// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Rules         RulesConfig         `yaml:"rules"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	ROI           ROIConfig           `yaml:"roi"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Store         StoreConfig         `yaml:"store"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// RulesConfig describes where rule documents come from. An empty Directory
// selects the built-in catalogue.
type RulesConfig struct {
	Directory string        `yaml:"directory"`
	Watch     bool          `yaml:"watch"`
	Debounce  time.Duration `yaml:"debounce"`
}

// AnalysisConfig tunes the inefficiency aggregator.
type AnalysisConfig struct {
	MaxPotential float64                 `yaml:"max_potential"`
	Anchors      map[string]AnchorConfig `yaml:"anchors"`
}

// AnchorConfig overrides the improvement-potential anchor of a rule.
type AnchorConfig struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// ROIConfig holds the ROI estimator constants.
type ROIConfig struct {
	ConservatismFactor float64 `yaml:"conservatism_factor"`
	HorizonYears       int     `yaml:"horizon_years"`
}

// PipelineConfig describes orchestrator retry, timeout and breaker settings.
type PipelineConfig struct {
	GateRetries    int                  `yaml:"gate_retries"`
	Retry          RetryConfig          `yaml:"retry"`
	CallTimeout    time.Duration        `yaml:"call_timeout"`
	RunCeiling     time.Duration        `yaml:"run_ceiling"`
	StaleAfter     time.Duration        `yaml:"stale_after"`
	SweepInterval  time.Duration        `yaml:"sweep_interval"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	MaxConcurrent  int                  `yaml:"max_concurrent"`
}

// RetryConfig describes upstream retry settings.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// CircuitBreakerConfig describes circuit breaker settings for reasoning calls.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// StoreConfig describes run persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	RedisAddrEnv    string        `yaml:"redis_addr_env"`
	RedisDB         int           `yaml:"redis_db"`
	TTL             time.Duration `yaml:"ttl"`
	SQLitePath      string        `yaml:"sqlite_path"`
}

// ReasoningConfig selects the external reasoning service.
type ReasoningConfig struct {
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	SchemaFile string        `yaml:"schema_file"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string        `yaml:"log_level"`
	LogOutput   string        `yaml:"log_output"`
	Development bool          `yaml:"development"`
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
)

// Reasoning providers.
const (
	ProviderPassthrough = "passthrough"
	ProviderHTTP        = "http"
	ProviderGenAI       = "genai"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Rules: RulesConfig{
			Debounce: 500 * time.Millisecond,
		},
		Analysis: AnalysisConfig{
			MaxPotential: 80,
		},
		ROI: ROIConfig{
			ConservatismFactor: 0.7,
			HorizonYears:       3,
		},
		Pipeline: PipelineConfig{
			GateRetries: 2,
			Retry: RetryConfig{
				MaxRetries:        3,
				BackoffInitial:    200 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        5 * time.Second,
			},
			CallTimeout:   30 * time.Second,
			RunCeiling:    5 * time.Minute,
			StaleAfter:    15 * time.Minute,
			SweepInterval: time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			MaxConcurrent: 64,
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			DSNEnv:          "LEANFLOW_DATABASE_URL",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			RedisAddrEnv:    "LEANFLOW_REDIS_ADDR",
			TTL:             7 * 24 * time.Hour,
			SQLitePath:      "leanflow.db",
		},
		Reasoning: ReasoningConfig{
			Provider:  ProviderPassthrough,
			APIKeyEnv: "LEANFLOW_REASONING_API_KEY",
			Model:     "gemini-2.5-flash",
			Timeout:   20 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogOutput: "stdout",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path yields the defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Analysis.MaxPotential <= 0 || c.Analysis.MaxPotential > 100 {
		errs = append(errs, "analysis.max_potential must be in (0, 100]")
	}
	for id, a := range c.Analysis.Anchors {
		if a.Low < 0 || a.Low > a.High || a.High > 100 {
			errs = append(errs, fmt.Sprintf("analysis.anchors.%s must satisfy 0 <= low <= high <= 100", id))
		}
	}
	if c.ROI.ConservatismFactor <= 0 || c.ROI.ConservatismFactor >= 1 {
		errs = append(errs, "roi.conservatism_factor must be in (0, 1)")
	}
	if c.ROI.HorizonYears < 1 {
		errs = append(errs, "roi.horizon_years must be at least 1")
	}
	if c.Pipeline.GateRetries < 0 {
		errs = append(errs, "pipeline.gate_retries must not be negative")
	}
	if c.Pipeline.Retry.MaxRetries < 0 {
		errs = append(errs, "pipeline.retry.max_retries must not be negative")
	}
	if c.Pipeline.CallTimeout <= 0 {
		errs = append(errs, "pipeline.call_timeout must be positive")
	}
	if c.Pipeline.RunCeiling <= 0 {
		errs = append(errs, "pipeline.run_ceiling must be positive")
	}

	switch c.Store.Driver {
	case DriverMemory, DriverPostgres, DriverRedis, DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres, redis, sqlite", c.Store.Driver))
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		errs = append(errs, "store.sqlite_path is required for the sqlite driver")
	}

	switch c.Reasoning.Provider {
	case ProviderPassthrough, ProviderGenAI:
	case ProviderHTTP:
		if c.Reasoning.BaseURL == "" {
			errs = append(errs, "reasoning.base_url is required for the http provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("reasoning.provider %q is not one of passthrough, http, genai", c.Reasoning.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads LEANFLOW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEANFLOW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LEANFLOW_RULES_DIRECTORY"); v != "" {
		cfg.Rules.Directory = v
	}
	if v := os.Getenv("LEANFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("LEANFLOW_REASONING_PROVIDER"); v != "" {
		cfg.Reasoning.Provider = v
	}
	if v := os.Getenv("LEANFLOW_REASONING_BASE_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("LEANFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LEANFLOW_ROI_CONSERVATISM_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ROI.ConservatismFactor = f
		}
	}
}
