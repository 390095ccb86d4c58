// Package llmgov is an in-process governance layer for LLM generation calls.
// It sits between an application and a fixed set of backends and applies
// token and budget admission, per-backend circuit breaking with failover,
// content-addressed response caching, cost accounting and telemetry.
//
// Basic usage:
//
//	gov, err := llmgov.New(
//	    llmgov.WithBackend(mock.NewOpenAI()),
//	    llmgov.WithBackend(mock.NewAnthropic()),
//	    llmgov.WithMonthlyBudget(100),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gov.Close()
//
//	res, err := gov.Generate(ctx, &llmgov.Request{
//	    UserProfile:   "Senior Go engineer, 8 years, distributed systems",
//	    JobMarketData: "Backend roles up 12% quarter over quarter",
//	})
package llmgov

import (
	"fmt"

	"github.com/blueberrycongee/llmgov/internal/metrics"
	"github.com/blueberrycongee/llmgov/pkg/provider"
)

// Version is the current version of llmgov.
const Version = "1.0.0"

// CacheHitLatencyMs is the latency reported for responses served from cache.
const CacheHitLatencyMs = 0.1

// Re-export the backend contract for convenience.
type (
	// Provider is a generation backend.
	Provider = provider.Provider

	// Identity is a backend's static id, model and pricing.
	Identity = provider.Identity

	// BackendConfig describes a backend built from the provider registry.
	BackendConfig = provider.Config

	// Metadata carries caller-supplied tracking tags (feature and prompt
	// versions, experiment and variant ids).
	Metadata = metrics.Metadata
)

// Request is one governed generation request.
type Request struct {
	UserProfile   string `json:"user_profile"`
	JobMarketData string `json:"job_market_data"`
	// SystemPrompt is optional. A nil prompt and an empty prompt share cache entries.
	SystemPrompt *string `json:"system_prompt,omitempty"`
	// PreferredBackend is tried first when its circuit admits. Unknown ids are ignored.
	PreferredBackend string   `json:"preferred_provider,omitempty"`
	Metadata         Metadata `json:"metadata"`
}

// Result is the outcome of a successful Generate call.
type Result struct {
	Content      string  `json:"content"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Backend      string  `json:"provider"`
	Model        string  `json:"model"`
	LatencyMs    float64 `json:"latency_ms"`
	CacheHit     bool    `json:"cache_hit"`
	CostUSD      float64 `json:"cost_usd"`
	RequestID    string  `json:"request_id"`
}

// TotalTokens returns input plus output tokens.
func (r *Result) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// CombinePrompt builds the backend input from a profile and market data.
func CombinePrompt(userProfile, jobMarketData string) string {
	return fmt.Sprintf("User Profile:\n%s\n\nJob Market Data:\n%s", userProfile, jobMarketData)
}

func systemPromptOf(req *Request) string {
	if req.SystemPrompt == nil {
		return ""
	}
	return *req.SystemPrompt
}
