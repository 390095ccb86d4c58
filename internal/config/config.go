// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/llmgov/pkg/provider"
)

// Config represents the complete governor configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Backends       []BackendConfig      `yaml:"backends"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Cache          CacheConfig          `yaml:"cache"`
	Limits         LimitsConfig         `yaml:"limits"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// BackendConfig defines one generation backend. Order in the file is the
// fallback order.
type BackendConfig struct {
	ID              string        `yaml:"id"`
	Type            string        `yaml:"type"` // openai, anthropic, mock
	Model           string        `yaml:"model"`
	InputCostPer1K  float64       `yaml:"input_cost_per_1k"`  // zero: looked up by model
	OutputCostPer1K float64       `yaml:"output_cost_per_1k"` // zero: looked up by model
	NominalLatency  time.Duration `yaml:"nominal_latency"`
	FailureRate     float64       `yaml:"failure_rate"`
	JitterMin       time.Duration `yaml:"jitter_min"`
	JitterMax       time.Duration `yaml:"jitter_max"`
}

// ProviderConfig converts the entry to the provider factory input.
func (b BackendConfig) ProviderConfig() provider.Config {
	return provider.Config{
		ID:              b.ID,
		Type:            b.Type,
		Model:           b.Model,
		InputCostPer1K:  b.InputCostPer1K,
		OutputCostPer1K: b.OutputCostPer1K,
		NominalLatency:  b.NominalLatency,
		FailureRate:     b.FailureRate,
		JitterMin:       b.JitterMin,
		JitterMax:       b.JitterMax,
	}
}

// CircuitBreakerConfig contains per-backend breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	RecoveryTimeout    time.Duration `yaml:"recovery_timeout"`
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LimitsConfig contains token and spend governance limits.
type LimitsConfig struct {
	MaxAverageTokens int     `yaml:"max_average_tokens"`
	MonthlyBudgetUSD float64 `yaml:"monthly_budget_usd"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	Exporter    string  `yaml:"exporter"`     // grpc, http
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// TelemetryConfig selects the sinks that receive per-request telemetry records.
type TelemetryConfig struct {
	BufferSize  int               `yaml:"buffer_size"`
	JSONLPath   string            `yaml:"jsonl_path"`
	SQLitePath  string            `yaml:"sqlite_path"`
	S3          S3Config          `yaml:"s3"`
	Redis       RedisConfig       `yaml:"redis"`
	OTelMetrics OTelMetricsConfig `yaml:"otel_metrics"`
}

// S3Config contains the S3 archive sink settings.
type S3Config struct {
	Enabled       bool          `yaml:"enabled"`
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	AccessKeyID   string        `yaml:"access_key_id"`
	SecretKey     string        `yaml:"secret_access_key"`
	Endpoint      string        `yaml:"endpoint"`
	PathPrefix    string        `yaml:"path_prefix"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// RedisConfig contains the Redis stream sink settings.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	MaxLen    int64  `yaml:"max_len"`
}

// OTelMetricsConfig contains the OTLP metrics sink settings.
type OTelMetricsConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	Exporter       string            `yaml:"exporter"` // grpc, http
	Insecure       bool              `yaml:"insecure"`
	Headers        map[string]string `yaml:"headers"`
	ExportInterval time.Duration     `yaml:"export_interval"`
}

// RateLimitConfig defines per-client HTTP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// IdempotencyConfig controls Idempotency-Key replay on the generate route.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
}

// DefaultConfig returns a configuration with sensible defaults.
// It carries no backends; a loaded file must declare at least one.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:   5,
			ErrorRateThreshold: 0.5,
			RecoveryTimeout:    30 * time.Second,
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Limits: LimitsConfig{
			MaxAverageTokens: 500,
			MonthlyBudgetUSD: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Exporter:    "grpc",
			ServiceName: "llmgov",
			SampleRate:  1.0,
			Insecure:    true,
		},
		Telemetry: TelemetryConfig{
			BufferSize: 1000,
			S3: S3Config{
				FlushInterval: 10 * time.Second,
				BatchSize:     100,
			},
			Redis: RedisConfig{
				KeyPrefix: "llmgov:telemetry",
				MaxLen:    10000,
			},
			OTelMetrics: OTelMetricsConfig{
				Endpoint:       "localhost:4317",
				Exporter:       "grpc",
				Insecure:       true,
				ExportInterval: 60 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Window:  10 * time.Minute,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

var validBackendTypes = map[string]bool{"openai": true, "anthropic": true, "mock": true}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend[%d]: id is required", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("backend[%d] %q: duplicate id", i, b.ID)
		}
		seen[b.ID] = true
		if !validBackendTypes[b.Type] {
			return fmt.Errorf("backend[%d] %q: unknown type %q", i, b.ID, b.Type)
		}
		if b.Type == "mock" && b.Model == "" {
			return fmt.Errorf("backend[%d] %q: model is required for mock backends", i, b.ID)
		}
		if b.InputCostPer1K < 0 || b.OutputCostPer1K < 0 {
			return fmt.Errorf("backend[%d] %q: costs cannot be negative", i, b.ID)
		}
		if b.FailureRate < 0 || b.FailureRate > 1 {
			return fmt.Errorf("backend[%d] %q: failure_rate must be within [0, 1]", i, b.ID)
		}
		if b.NominalLatency < 0 {
			return fmt.Errorf("backend[%d] %q: nominal_latency cannot be negative", i, b.ID)
		}
		if b.JitterMin > b.JitterMax {
			return fmt.Errorf("backend[%d] %q: jitter_min exceeds jitter_max", i, b.ID)
		}
	}

	cb := c.CircuitBreaker
	if cb.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1")
	}
	if cb.ErrorRateThreshold <= 0 || cb.ErrorRateThreshold > 1 {
		return fmt.Errorf("circuit_breaker.error_rate_threshold must be within (0, 1]")
	}
	if cb.RecoveryTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.recovery_timeout must be positive")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Limits.MaxAverageTokens < 1 {
		return fmt.Errorf("limits.max_average_tokens must be at least 1")
	}
	if c.Limits.MonthlyBudgetUSD < 0 {
		return fmt.Errorf("limits.monthly_budget_usd cannot be negative")
	}

	if c.Tracing.Exporter != "" && c.Tracing.Exporter != "grpc" && c.Tracing.Exporter != "http" {
		return fmt.Errorf("tracing.exporter must be grpc or http, got %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	t := c.Telemetry
	if t.S3.Enabled && t.S3.Bucket == "" {
		return fmt.Errorf("telemetry.s3.bucket is required when s3 is enabled")
	}
	if t.Redis.Enabled && t.Redis.Addr == "" {
		return fmt.Errorf("telemetry.redis.addr is required when redis is enabled")
	}
	if t.OTelMetrics.Exporter != "" && t.OTelMetrics.Exporter != "grpc" && t.OTelMetrics.Exporter != "http" {
		return fmt.Errorf("telemetry.otel_metrics.exporter must be grpc or http, got %q", t.OTelMetrics.Exporter)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive when enabled")
	}
	if c.Idempotency.Enabled && c.Idempotency.Window <= 0 {
		return fmt.Errorf("idempotency.window must be positive when enabled")
	}

	return nil
}

// Warning codes returned by Warnings.
const (
	WarningHighFailureRate = "high_failure_rate"
	WarningZeroBudget      = "zero_budget"
	WarningShortTimeout    = "short_write_timeout"
)

// Warning is a non-fatal configuration issue worth logging at startup.
type Warning struct {
	Code    string
	Message string
}

// Warnings returns non-fatal issues in the configuration.
func (c *Config) Warnings() []Warning {
	var warnings []Warning
	for _, b := range c.Backends {
		if b.FailureRate >= 0.5 {
			warnings = append(warnings, Warning{
				Code:    WarningHighFailureRate,
				Message: fmt.Sprintf("backend %q: failure_rate %.2f will trip its circuit breaker quickly", b.ID, b.FailureRate),
			})
		}
	}
	if c.Limits.MonthlyBudgetUSD == 0 {
		warnings = append(warnings, Warning{
			Code:    WarningZeroBudget,
			Message: "limits.monthly_budget_usd is 0: every request will be rejected",
		})
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < 5*time.Second {
		warnings = append(warnings, Warning{
			Code:    WarningShortTimeout,
			Message: "server.write_timeout is below 5s: slow backends may be cut off",
		})
	}
	return warnings
}
