package api //nolint:revive // package name is intentional

import (
	"net/http"

	"github.com/blueberrycongee/llmgov/internal/metrics"
	"github.com/blueberrycongee/llmgov/internal/observability"
)

// RouteOptions configures the optional layers around the API routes.
type RouteOptions struct {
	// Recorder records per-route HTTP metrics when set.
	Recorder *metrics.Recorder
	// MetricsHandler is served on GET MetricsPath when set.
	MetricsHandler http.Handler
	// MetricsPath defaults to /metrics.
	MetricsPath string
	// RateLimiter limits POST /v1/generate per client when set.
	RateLimiter *ClientRateLimiter
	// Idempotency replays POST /v1/generate responses when set.
	Idempotency *IdempotencyCache
}

// Routes returns the API handler. Every route gets a request id.
func (h *Handler) Routes(opts RouteOptions) http.Handler {
	mux := http.NewServeMux()

	var generate http.Handler = http.HandlerFunc(h.Generate)
	if opts.Idempotency != nil {
		generate = opts.Idempotency.Middleware(generate)
	}
	if opts.RateLimiter != nil {
		generate = opts.RateLimiter.Middleware(generate)
	}

	mux.Handle("POST /v1/generate", opts.Recorder.Middleware("/v1/generate", generate))
	mux.Handle("GET /v1/stats", opts.Recorder.Middleware("/v1/stats", http.HandlerFunc(h.Stats)))
	mux.Handle("GET /v1/telemetry", opts.Recorder.Middleware("/v1/telemetry", http.HandlerFunc(h.Telemetry)))
	mux.HandleFunc("GET /health/live", h.Live)
	mux.HandleFunc("GET /health/ready", h.Ready)
	if opts.MetricsHandler != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, opts.MetricsHandler)
	}

	return observability.RequestIDMiddleware(mux)
}
