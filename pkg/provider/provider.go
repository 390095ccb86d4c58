// Package provider defines the capability contract every generation backend
// implements. The governor treats backends as a homogeneous, ordered table of
// providers; it never needs to know how a provider produces its text.
package provider

import (
	"context"
	"time"
)

// Identity is the static description of a configured backend.
// It is created at startup and never mutated.
type Identity struct {
	// ID is the backend identifier used for selection, metrics and telemetry (e.g. "openai").
	ID string `json:"id" yaml:"id"`
	// Model is the model name reported by the backend.
	Model string `json:"model" yaml:"model"`
	// InputCostPer1K is the USD price per 1000 input tokens.
	InputCostPer1K float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	// OutputCostPer1K is the USD price per 1000 output tokens.
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
	// NominalLatency is the advertised typical latency.
	NominalLatency time.Duration `json:"nominal_latency" yaml:"nominal_latency"`
}

// Response is the outcome of a single successful generation call.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Latency      time.Duration
}

// Provider is a generation backend.
type Provider interface {
	// Identity returns the backend's static identity and pricing.
	Identity() Identity

	// Generate produces text for the combined prompt. The system prompt may be empty.
	// Any returned error is treated as a backend failure by the caller.
	Generate(ctx context.Context, prompt, systemPrompt string) (*Response, error)
}

// Config describes a backend to be created by a Factory.
type Config struct {
	ID              string
	Type            string
	Model           string
	InputCostPer1K  float64
	OutputCostPer1K float64
	NominalLatency  time.Duration
	// FailureRate, JitterMin and JitterMax only apply to simulated backends.
	FailureRate float64
	JitterMin   time.Duration
	JitterMax   time.Duration
}

// Factory creates a provider from configuration.
type Factory func(cfg Config) (Provider, error)
