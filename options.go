package llmgov

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/llmgov/internal/cache"
	"github.com/blueberrycongee/llmgov/internal/governance"
	"github.com/blueberrycongee/llmgov/internal/observability"
	"github.com/blueberrycongee/llmgov/internal/pricing"
	"github.com/blueberrycongee/llmgov/internal/resilience"
)

// Config holds all configuration for a Governor.
type Config struct {
	// Backends, in selection order. Instances come first, then configs.
	Backends       []Provider
	BackendConfigs []BackendConfig

	CircuitBreaker   resilience.CircuitBreakerConfig
	CacheTTL         time.Duration
	MaxAverageTokens int
	MonthlyBudgetUSD float64

	// Pricing is the model price table used for backends without explicit prices.
	Pricing []pricing.ModelPricing

	// Telemetry
	Sinks               []observability.Sink
	TelemetryBufferSize int

	// Observability
	Logger     *observability.Logger
	Redactor   *observability.Redactor
	Registerer prometheus.Registerer
	Tracer     trace.Tracer

	// Clock drives breakers, cache expiry, the budget window and timestamps.
	Clock func() time.Time
}

// Option is a functional option for configuring the Governor.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		CircuitBreaker:      resilience.DefaultCircuitBreakerConfig(),
		CacheTTL:            cache.DefaultTTL,
		MaxAverageTokens:    governance.DefaultMaxAverageTokens,
		MonthlyBudgetUSD:    governance.DefaultMonthlyBudgetUSD,
		Pricing:             pricing.DefaultPricing,
		TelemetryBufferSize: observability.DefaultMemoryCapacity,
		Clock:               time.Now,
	}
}

// WithBackend adds a backend instance. Backends are tried in the order added.
//
// Example:
//
//	llmgov.WithBackend(mock.NewOpenAI(mock.WithFailureRate(0.1)))
func WithBackend(p Provider) Option {
	return func(c *Config) {
		if p != nil {
			c.Backends = append(c.Backends, p)
		}
	}
}

// WithBackendConfig adds a backend created from the provider registry.
// Unset prices are looked up in the model price table.
//
// Example:
//
//	llmgov.WithBackendConfig(llmgov.BackendConfig{
//	    ID:    "local",
//	    Type:  "mock",
//	    Model: "llama-3-70b",
//	})
func WithBackendConfig(cfg BackendConfig) Option {
	return func(c *Config) {
		c.BackendConfigs = append(c.BackendConfigs, cfg)
	}
}

// WithCircuitBreaker sets the breaker configuration shared by all backends.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Config) {
		c.CircuitBreaker = cfg
	}
}

// WithCacheTTL sets the response cache lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.CacheTTL = ttl
	}
}

// WithMaxAverageTokens sets the per-request input token ceiling.
func WithMaxAverageTokens(n int) Option {
	return func(c *Config) {
		c.MaxAverageTokens = n
	}
}

// WithMonthlyBudget sets the monthly spending ceiling in USD.
func WithMonthlyBudget(usd float64) Option {
	return func(c *Config) {
		c.MonthlyBudgetUSD = usd
	}
}

// WithPricing replaces the model price table.
func WithPricing(models []pricing.ModelPricing) Option {
	return func(c *Config) {
		c.Pricing = models
	}
}

// WithSink adds a telemetry sink. The in-memory buffer is always registered first.
func WithSink(s observability.Sink) Option {
	return func(c *Config) {
		if s != nil {
			c.Sinks = append(c.Sinks, s)
		}
	}
}

// WithTelemetryBuffer sets how many recent telemetry records are kept in memory.
func WithTelemetryBuffer(n int) Option {
	return func(c *Config) {
		c.TelemetryBufferSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithRedactor sets the redactor applied to prompt previews in debug logs.
func WithRedactor(r *observability.Redactor) Option {
	return func(c *Config) {
		c.Redactor = r
	}
}

// WithRegisterer enables Prometheus metrics on reg.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	llmgov.WithRegisterer(reg)
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// WithTracer sets the tracer used for request spans.
// The global OpenTelemetry tracer is used when unset.
func WithTracer(t trace.Tracer) Option {
	return func(c *Config) {
		c.Tracer = t
	}
}

// WithClock replaces the time source. Mainly useful in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Clock = now
		}
	}
}
