// Package api exposes the governor over HTTP: generation, statistics,
// recent telemetry and health endpoints.
package api //nolint:revive // package name is intentional

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmgov"
	"github.com/blueberrycongee/llmgov/internal/httputil"
	"github.com/blueberrycongee/llmgov/internal/observability"
	llmerrors "github.com/blueberrycongee/llmgov/pkg/errors"
)

const (
	defaultTelemetryLimit = 100
	maxTelemetryLimit     = observability.DefaultMemoryCapacity
)

// Handler serves the governor API.
type Handler struct {
	gov         *llmgov.Governor
	logger      *slog.Logger
	maxBodySize int64
}

// HandlerConfig contains configuration for Handler.
type HandlerConfig struct {
	MaxBodySize int64 // Maximum request body size in bytes
}

// NewHandler creates a handler for gov. A nil cfg uses defaults.
func NewHandler(gov *llmgov.Governor, logger *slog.Logger, cfg *HandlerConfig) *Handler {
	maxBodySize := httputil.DefaultMaxBodyBytes
	if cfg != nil && cfg.MaxBodySize > 0 {
		maxBodySize = cfg.MaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gov:         gov,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Generate handles POST /v1/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	body, err := httputil.ReadLimitedBody(r.Body, h.maxBodySize)
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		h.writeError(w, llmerrors.NewInvalidRequestError("request body too large"))
		return
	}
	if err != nil {
		h.writeError(w, llmerrors.NewInvalidRequestError("failed to read request body"))
		return
	}

	var req llmgov.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, llmerrors.NewInvalidRequestError("invalid JSON: "+err.Error()))
		return
	}
	if req.UserProfile == "" {
		h.writeError(w, llmerrors.NewInvalidRequestError("user_profile is required"))
		return
	}

	res, err := h.gov.Generate(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, res); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	if err := writeJSON(w, http.StatusOK, h.gov.Stats()); err != nil {
		h.logger.Error("failed to encode stats", "error", err)
	}
}

// Telemetry handles GET /v1/telemetry?limit=N and returns the most recent
// records, oldest first.
func (h *Handler) Telemetry(w http.ResponseWriter, r *http.Request) {
	limit := defaultTelemetryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, llmerrors.NewInvalidRequestError("limit must be a positive integer"))
			return
		}
		limit = min(n, maxTelemetryLimit)
	}

	records := h.gov.Telemetry(limit)
	if records == nil {
		records = []observability.Record{}
	}
	if err := writeJSON(w, http.StatusOK, map[string]any{"data": records, "count": len(records)}); err != nil {
		h.logger.Error("failed to encode telemetry", "error", err)
	}
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. The service is ready while at least one
// backend's circuit admits requests.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.gov.Ready() {
		_ = writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, resp := newErrorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "status", status, "error", err)
	}
	if err := writeJSON(w, status, resp); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
