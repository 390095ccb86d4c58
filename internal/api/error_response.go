package api //nolint:revive // package name is intentional

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	llmerrors "github.com/blueberrycongee/llmgov/pkg/errors"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload. Details carries the typed fields
// of token and budget rejections.
type ErrorDetail struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

func newErrorResponse(err error) (int, ErrorResponse) {
	status, typ := llmerrors.Classify(err)
	detail := ErrorDetail{
		Message:   err.Error(),
		Type:      typ,
		Retryable: llmerrors.Retryable(err),
	}

	var tokenErr *llmerrors.TokenLimitError
	var budgetErr *llmerrors.BudgetError
	switch {
	case errors.As(err, &tokenErr):
		detail.Details = tokenErr
	case errors.As(err, &budgetErr):
		detail.Details = budgetErr
	}
	return status, ErrorResponse{Error: detail}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
