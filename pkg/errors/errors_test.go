package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	backendErr := &BackendError{
		Backend: "openai",
		Model:   "gpt-4",
		Err:     NewServiceUnavailableError("openai", "gpt-4", "openai API error: Service unavailable"),
	}

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"nil", nil, http.StatusOK, ""},
		{"token limit", &TokenLimitError{InputTokens: 600, Limit: 500}, http.StatusBadRequest, TypeTokenLimit},
		{"budget", &BudgetError{Remaining: 1, UsagePercent: 99.98}, http.StatusPaymentRequired, TypeBudgetExceeded},
		{"unavailable", ErrAllBackendsUnavailable, http.StatusServiceUnavailable, TypeServiceUnavailable},
		{"backend failure", backendErr, http.StatusBadGateway, TypeBackendError},
		{"wrapped backend failure", fmt.Errorf("generate: %w", backendErr), http.StatusBadGateway, TypeBackendError},
		{"rate limit", NewRateLimitError("slow down"), http.StatusTooManyRequests, TypeRateLimit},
		{"invalid request", NewInvalidRequestError("bad json"), http.StatusBadRequest, TypeInvalidRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, TypeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, typ := Classify(tt.err)
			if code != tt.wantCode {
				t.Errorf("Classify() code = %d, want %d", code, tt.wantCode)
			}
			if typ != tt.wantType {
				t.Errorf("Classify() type = %q, want %q", typ, tt.wantType)
			}
		})
	}
}

func TestBackendError_Unwrap(t *testing.T) {
	inner := NewServiceUnavailableError("anthropic", "claude", "anthropic API error: Service unavailable")
	err := fmt.Errorf("generate: %w", &BackendError{Backend: "anthropic", Model: "claude", Err: inner})

	if !errors.Is(err, ErrBackendCall) {
		t.Fatal("expected errors.Is(err, ErrBackendCall)")
	}

	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		t.Fatal("expected errors.As to find the backend LLMError")
	}
	if llmErr.Error() != "anthropic API error: Service unavailable" {
		t.Errorf("unexpected inner message %q", llmErr.Error())
	}
}

func TestTypedErrorMessages(t *testing.T) {
	tokenErr := &TokenLimitError{InputTokens: 612, Limit: 500}
	if got := tokenErr.Error(); got != "token limit exceeded: 612 input tokens > limit 500" {
		t.Errorf("TokenLimitError.Error() = %q", got)
	}
	if errors.Is(tokenErr, ErrBudgetExceeded) {
		t.Error("token error must not match budget sentinel")
	}

	budgetErr := &BudgetError{Remaining: 1, UsagePercent: 99.98, Estimated: 2}
	if !errors.Is(budgetErr, ErrBudgetExceeded) {
		t.Error("expected budget error to match sentinel")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"token limit", &TokenLimitError{InputTokens: 600, Limit: 500}, false},
		{"budget", &BudgetError{}, true},
		{"unavailable", ErrAllBackendsUnavailable, true},
		{"retryable backend", &BackendError{Err: NewServiceUnavailableError("a", "m", "down")}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
