// Package errors defines the failure taxonomy of the governance pipeline.
// Callers can match the four request outcomes with errors.Is against the
// sentinels below, or unwrap the typed errors for their details.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for the request-level failure kinds.
var (
	ErrTokenLimitExceeded     = errors.New("token limit exceeded")
	ErrBudgetExceeded         = errors.New("monthly budget exceeded")
	ErrAllBackendsUnavailable = errors.New("all backends are unavailable (circuit breakers open)")
	ErrBackendCall            = errors.New("backend call failed")
)

// TokenLimitError is returned when the estimated input size is over the ceiling.
type TokenLimitError struct {
	InputTokens int `json:"input_tokens"`
	Limit       int `json:"limit"`
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf("token limit exceeded: %d input tokens > limit %d", e.InputTokens, e.Limit)
}

// Is reports whether target is ErrTokenLimitExceeded.
func (e *TokenLimitError) Is(target error) bool {
	return target == ErrTokenLimitExceeded
}

// BudgetError is returned when the projected spend would exceed the monthly budget.
type BudgetError struct {
	Remaining    float64 `json:"remaining_usd"`
	UsagePercent float64 `json:"usage_percent"`
	Estimated    float64 `json:"estimated_cost_usd"`
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("monthly budget exceeded: remaining $%.6f (%.1f%% used), estimated cost $%.6f",
		e.Remaining, e.UsagePercent, e.Estimated)
}

// Is reports whether target is ErrBudgetExceeded.
func (e *BudgetError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// BackendError wraps a failure raised by a backend during generation.
type BackendError struct {
	Backend string
	Model   string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s (%s): %v", e.Backend, e.Model, e.Err)
}

// Unwrap returns the backend's own error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBackendCall.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendCall
}

// LLMError represents a standardized error raised by a backend.
type LLMError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Backend    string `json:"backend"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error returns the backend message verbatim so telemetry keeps the raw text.
func (e *LLMError) Error() string {
	return e.Message
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *LLMError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error types, used in API error envelopes.
const (
	TypeInvalidRequest     = "invalid_request_error"
	TypeTokenLimit         = "token_limit_exceeded"
	TypeBudgetExceeded     = "budget_exceeded"
	TypeRateLimit          = "rate_limit_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeBackendError       = "backend_error"
	TypeInternalError      = "internal_error"
)

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(backend, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Backend:    backend,
		Model:      model,
		Retryable:  true,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(backend, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Backend:    backend,
		Model:      model,
		Retryable:  true,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Retryable:  true,
	}
}

// Classify maps any pipeline error to an HTTP status and an error type.
func Classify(err error) (int, string) {
	var llmErr *LLMError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrTokenLimitExceeded):
		return http.StatusBadRequest, TypeTokenLimit
	case errors.Is(err, ErrBudgetExceeded):
		return http.StatusPaymentRequired, TypeBudgetExceeded
	case errors.Is(err, ErrAllBackendsUnavailable):
		return http.StatusServiceUnavailable, TypeServiceUnavailable
	case errors.Is(err, ErrBackendCall):
		return http.StatusBadGateway, TypeBackendError
	case errors.As(err, &llmErr):
		return llmErr.HTTPStatusCode(), llmErr.Type
	default:
		return http.StatusInternalServerError, TypeInternalError
	}
}

// Retryable reports whether the caller may resubmit the same request later.
// Token limit rejections never succeed on resubmission.
func Retryable(err error) bool {
	if errors.Is(err, ErrTokenLimitExceeded) {
		return false
	}
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return errors.Is(err, ErrAllBackendsUnavailable) || errors.Is(err, ErrBudgetExceeded)
}
