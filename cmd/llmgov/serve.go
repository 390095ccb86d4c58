package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/blueberrycongee/llmgov"
	"github.com/blueberrycongee/llmgov/internal/api"
	"github.com/blueberrycongee/llmgov/internal/config"
	"github.com/blueberrycongee/llmgov/internal/observability"
)

const shutdownTimeout = 60 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the governance HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "llmgov.yaml", "path to config file")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}

	redactor := observability.NewRedactor()
	logger := newLogger(cfg.Logging, redactor)
	logger.Info("starting llmgov gateway", "version", llmgov.Version)
	for _, w := range cfg.Warnings() {
		logger.Warn("config warning", "code", w.Code, "message", w.Message)
	}

	cfgManager, err := config.NewManager(configPath, logger.Slog())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer func() { _ = cfgManager.Close() }()
	cfg = cfgManager.Get()

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	rt, err := buildRuntime(ctx, cfg, logger, redactor, registerer)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.close(closeCtx); err != nil {
			logger.Error("governor shutdown error", "error", err)
		}
	}()

	cfgManager.OnChange(func(old, updated *config.Config) {
		applyConfigChange(rt.gov, logger, old, updated)
	})
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	opts := api.RouteOptions{
		Recorder: rt.gov.MetricsRecorder(),
	}
	if reg != nil {
		opts.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		opts.MetricsPath = cfg.Metrics.Path
	}
	if cfg.RateLimit.Enabled {
		limiter := api.NewClientRateLimiter(api.RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.BurstSize,
			Logger:            logger.Slog(),
		})
		defer limiter.Stop()
		opts.RateLimiter = limiter
	}
	if cfg.Idempotency.Enabled {
		opts.Idempotency = api.NewIdempotencyCache(cfg.Idempotency.Window)
	}

	handler := api.NewHandler(rt.gov, logger.Slog(), nil)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port, "backends", rt.gov.Backends())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// applyConfigChange pushes tunable backend settings to the running governor
// and returns the changed sections that only take effect after a restart.
func applyConfigChange(gov *llmgov.Governor, logger *observability.Logger, old, updated *config.Config) []string {
	cfgs := make([]llmgov.BackendConfig, 0, len(updated.Backends))
	for _, b := range updated.Backends {
		cfgs = append(cfgs, b.ProviderConfig())
	}
	gov.ApplyBackendConfigs(cfgs)

	var restart []string
	if !slices.Equal(backendIDs(old), backendIDs(updated)) {
		restart = append(restart, "backends")
	}
	if old.CircuitBreaker != updated.CircuitBreaker {
		restart = append(restart, "circuit_breaker")
	}
	if old.Cache != updated.Cache {
		restart = append(restart, "cache")
	}
	if old.Limits != updated.Limits {
		restart = append(restart, "limits")
	}
	if old.Server != updated.Server {
		restart = append(restart, "server")
	}
	if len(restart) > 0 {
		logger.Warn("config change requires restart", "sections", restart)
	}
	return restart
}

func backendIDs(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		ids = append(ids, b.ID)
	}
	return ids
}
