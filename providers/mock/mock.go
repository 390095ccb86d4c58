// Package mock provides simulated generation backends.
// They reproduce latency variance, failure injection and a 4-characters-per-token
// usage estimate without any network access.
package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
	"unicode/utf8"

	llmerrors "github.com/blueberrycongee/llmgov/pkg/errors"
	"github.com/blueberrycongee/llmgov/pkg/provider"
)

const (
	// DefaultJitterMin is the lower bound of the latency variation.
	DefaultJitterMin = -200 * time.Millisecond
	// DefaultJitterMax is the upper bound of the latency variation.
	DefaultJitterMax = 500 * time.Millisecond

	previewRunes = 50
)

// OpenAIIdentity is the simulated OpenAI-like backend.
var OpenAIIdentity = provider.Identity{
	ID:              "openai",
	Model:           "gpt-4",
	InputCostPer1K:  0.03,
	OutputCostPer1K: 0.06,
	NominalLatency:  1200 * time.Millisecond,
}

// AnthropicIdentity is the simulated Anthropic-like backend.
var AnthropicIdentity = provider.Identity{
	ID:              "anthropic",
	Model:           "claude-3-5-sonnet-20241022",
	InputCostPer1K:  0.003,
	OutputCostPer1K: 0.015,
	NominalLatency:  800 * time.Millisecond,
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Provider is a simulated backend. It is safe for concurrent use; failure rate
// and latency can be changed while requests are in flight.
type Provider struct {
	identity provider.Identity

	mu          sync.RWMutex
	failureRate float64
	nominal     time.Duration
	jitterMin   time.Duration
	jitterMax   time.Duration

	rngMu  sync.Mutex
	random func() float64
	sleep  Sleeper
}

// Option configures a mock provider.
type Option func(*Provider)

// WithFailureRate sets the probability (0..1) that a call fails.
func WithFailureRate(rate float64) Option {
	return func(p *Provider) {
		p.failureRate = clampRate(rate)
	}
}

// WithJitter sets the latency variation range added to the nominal latency.
func WithJitter(lo, hi time.Duration) Option {
	return func(p *Provider) {
		if hi >= lo {
			p.jitterMin, p.jitterMax = lo, hi
		}
	}
}

// WithRandom replaces the uniform [0,1) source.
func WithRandom(fn func() float64) Option {
	return func(p *Provider) {
		if fn != nil {
			p.random = fn
		}
	}
}

// WithSleeper replaces the latency simulation wait.
func WithSleeper(fn Sleeper) Option {
	return func(p *Provider) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// New creates a mock provider for the given identity.
func New(identity provider.Identity, opts ...Option) *Provider {
	p := &Provider{
		identity:  identity,
		nominal:   identity.NominalLatency,
		jitterMin: DefaultJitterMin,
		jitterMax: DefaultJitterMax,
		random:    rand.Float64,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates the OpenAI-like mock backend.
func NewOpenAI(opts ...Option) *Provider {
	return New(OpenAIIdentity, opts...)
}

// NewAnthropic creates the Anthropic-like mock backend.
func NewAnthropic(opts ...Option) *Provider {
	return New(AnthropicIdentity, opts...)
}

// NewFromConfig creates a mock provider from configuration.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("mock: id is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("mock %q: model is required", cfg.ID)
	}
	opts := []Option{WithFailureRate(cfg.FailureRate)}
	if cfg.JitterMin != 0 || cfg.JitterMax != 0 {
		opts = append(opts, WithJitter(cfg.JitterMin, cfg.JitterMax))
	}
	return New(provider.Identity{
		ID:              cfg.ID,
		Model:           cfg.Model,
		InputCostPer1K:  cfg.InputCostPer1K,
		OutputCostPer1K: cfg.OutputCostPer1K,
		NominalLatency:  cfg.NominalLatency,
	}, opts...), nil
}

// Identity returns the backend identity.
func (p *Provider) Identity() provider.Identity {
	return p.identity
}

// FailureRate returns the current failure probability.
func (p *Provider) FailureRate() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failureRate
}

// SetFailureRate changes the failure probability.
func (p *Provider) SetFailureRate(rate float64) {
	p.mu.Lock()
	p.failureRate = clampRate(rate)
	p.mu.Unlock()
}

// SetLatency changes the nominal latency and jitter range.
func (p *Provider) SetLatency(nominal, jitterMin, jitterMax time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nominal = nominal
	if jitterMax >= jitterMin {
		p.jitterMin, p.jitterMax = jitterMin, jitterMax
	}
}

// Generate simulates a generation call.
func (p *Provider) Generate(ctx context.Context, prompt, systemPrompt string) (*provider.Response, error) {
	p.mu.RLock()
	nominal, jMin, jMax, failureRate := p.nominal, p.jitterMin, p.jitterMax, p.failureRate
	p.mu.RUnlock()

	latency := nominal + jMin + time.Duration(p.uniform()*float64(jMax-jMin))
	if latency < 0 {
		latency = 0
	}
	if err := p.sleep(ctx, latency); err != nil {
		return nil, llmerrors.NewTimeoutError(p.identity.ID, p.identity.Model,
			fmt.Sprintf("%s API error: %v", p.identity.ID, err))
	}

	if p.uniform() < failureRate {
		return nil, llmerrors.NewServiceUnavailableError(p.identity.ID, p.identity.Model,
			fmt.Sprintf("%s API error: Service unavailable", p.identity.ID))
	}

	content := fmt.Sprintf("Mock response from %s (%s) for: %s...", p.identity.ID, p.identity.Model, preview(prompt))
	return &provider.Response{
		Content:      content,
		InputTokens:  utf8.RuneCountInString(systemPrompt+prompt) / 4,
		OutputTokens: utf8.RuneCountInString(content) / 4,
		Model:        p.identity.Model,
		Latency:      latency,
	}, nil
}

func (p *Provider) uniform() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.random()
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes])
}

func clampRate(rate float64) float64 {
	switch {
	case rate < 0:
		return 0
	case rate > 1:
		return 1
	default:
		return rate
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
