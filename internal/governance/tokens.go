// Package governance holds the pre-flight guards of the request pipeline: the
// per-request token limit and the monthly spend window.
package governance

import (
	"sync"
	"unicode/utf8"

	llmerrors "github.com/blueberrycongee/llmgov/pkg/errors"
)

// DefaultMaxAverageTokens is the default per-request input ceiling.
const DefaultMaxAverageTokens = 500

// EstimateTokens approximates a token count as one token per four characters.
// It does not match any real tokenizer.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// Validation is the outcome of an admitted token check.
type Validation struct {
	InputTokens int
	// MaxOutputTokens is advisory; it is not enforced against the backend.
	MaxOutputTokens int
}

// TokenSnapshot reports the running token average.
type TokenSnapshot struct {
	MaxAverageTokens int     `json:"max_average_tokens"`
	CurrentAverage   float64 `json:"current_average"`
	WithinLimit      bool    `json:"within_limit"`
	TotalRequests    int     `json:"total_requests"`
	TotalTokens      int     `json:"total_tokens"`
}

// TokenLimiter bounds request input size and tracks the running average of
// tokens per successful request.
type TokenLimiter struct {
	maxAverage int

	mu            sync.Mutex
	totalRequests int
	totalTokens   int
}

// NewTokenLimiter creates a limiter. A non-positive maxAverage selects the default.
func NewTokenLimiter(maxAverage int) *TokenLimiter {
	if maxAverage <= 0 {
		maxAverage = DefaultMaxAverageTokens
	}
	return &TokenLimiter{maxAverage: maxAverage}
}

// Validate estimates input tokens over systemPrompt + userProfile + jobMarketData.
// It returns a *errors.TokenLimitError when the estimate exceeds the ceiling.
// Validate never mutates the limiter.
func (l *TokenLimiter) Validate(userProfile, jobMarketData string, systemPrompt *string) (Validation, error) {
	system := ""
	if systemPrompt != nil {
		system = *systemPrompt
	}

	input := EstimateTokens(system + userProfile + jobMarketData)
	if input > l.maxAverage {
		return Validation{}, &llmerrors.TokenLimitError{InputTokens: input, Limit: l.maxAverage}
	}
	return Validation{
		InputTokens:     input,
		MaxOutputTokens: max(0, l.maxAverage-input),
	}, nil
}

// Track adds one request's total tokens to the running average.
func (l *TokenLimiter) Track(tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalRequests++
	l.totalTokens += tokens
}

// Snapshot returns the current counters.
func (l *TokenLimiter) Snapshot() TokenSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	avg := l.averageLocked()
	return TokenSnapshot{
		MaxAverageTokens: l.maxAverage,
		CurrentAverage:   avg,
		WithinLimit:      avg <= float64(l.maxAverage),
		TotalRequests:    l.totalRequests,
		TotalTokens:      l.totalTokens,
	}
}

// Reset zeroes the counters.
func (l *TokenLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalRequests = 0
	l.totalTokens = 0
}

func (l *TokenLimiter) averageLocked() float64 {
	if l.totalRequests == 0 {
		return 0
	}
	return float64(l.totalTokens) / float64(l.totalRequests)
}
