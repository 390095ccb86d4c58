package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/llmgov"
	"github.com/blueberrycongee/llmgov/internal/config"
	"github.com/blueberrycongee/llmgov/internal/observability"
	"github.com/blueberrycongee/llmgov/internal/resilience"
)

const redisPingTimeout = 5 * time.Second

// runtime holds what a command builds from a config file, plus what must be
// released after the governor is closed.
type runtime struct {
	gov     *llmgov.Governor
	tracing *observability.TracerProvider
	redis   *redis.Client
}

func (rt *runtime) close(ctx context.Context) error {
	err := rt.gov.Shutdown(ctx)
	if extErr := rt.closeExternal(ctx); err == nil {
		err = extErr
	}
	return err
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, redactor *observability.Redactor) *observability.Logger {
	return observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Level),
		JSONFormat: cfg.Format != "text",
	}, redactor)
}

// buildRuntime creates the governor described by cfg together with its
// tracing provider and telemetry sinks. reg may be nil to disable Prometheus.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *observability.Logger, redactor *observability.Redactor, reg prometheus.Registerer) (*runtime, error) {
	rt := &runtime{}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		Endpoint:     cfg.Tracing.Endpoint,
		ExporterType: observability.ExporterType(cfg.Tracing.Exporter),
		ServiceName:  cfg.Tracing.ServiceName,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, err
	}
	rt.tracing = tp

	sinks, err := rt.buildSinks(ctx, cfg, logger)
	if err != nil {
		for _, s := range sinks {
			_ = s.Shutdown(ctx)
		}
		_ = rt.closeExternal(ctx)
		return nil, err
	}

	opts := []llmgov.Option{
		llmgov.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold:   cfg.CircuitBreaker.FailureThreshold,
			ErrorRateThreshold: cfg.CircuitBreaker.ErrorRateThreshold,
			RecoveryTimeout:    cfg.CircuitBreaker.RecoveryTimeout,
		}),
		llmgov.WithCacheTTL(cfg.Cache.TTL),
		llmgov.WithMaxAverageTokens(cfg.Limits.MaxAverageTokens),
		llmgov.WithMonthlyBudget(cfg.Limits.MonthlyBudgetUSD),
		llmgov.WithTelemetryBuffer(cfg.Telemetry.BufferSize),
		llmgov.WithLogger(logger),
		llmgov.WithRedactor(redactor),
		llmgov.WithTracer(tp.Tracer()),
	}
	if reg != nil {
		opts = append(opts, llmgov.WithRegisterer(reg))
	}
	for _, b := range cfg.Backends {
		opts = append(opts, llmgov.WithBackendConfig(b.ProviderConfig()))
	}
	for _, s := range sinks {
		opts = append(opts, llmgov.WithSink(s))
	}

	gov, err := llmgov.New(opts...)
	if err != nil {
		for _, s := range sinks {
			_ = s.Shutdown(ctx)
		}
		_ = rt.closeExternal(ctx)
		return nil, fmt.Errorf("create governor: %w", err)
	}
	rt.gov = gov
	return rt, nil
}

func (rt *runtime) closeExternal(ctx context.Context) error {
	var firstErr error
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	if rt.tracing != nil {
		if err := rt.tracing.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown tracing: %w", err)
		}
	}
	return firstErr
}

// buildSinks returns the sinks created so far even on error so the caller can
// release them.
func (rt *runtime) buildSinks(ctx context.Context, cfg *config.Config, logger *observability.Logger) ([]observability.Sink, error) {
	t := cfg.Telemetry
	var sinks []observability.Sink

	if t.JSONLPath != "" {
		s, err := observability.NewJSONLSink(t.JSONLPath)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, s)
	}

	if t.SQLitePath != "" {
		s, err := observability.NewSQLiteSink(t.SQLitePath)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, s)
	}

	if t.S3.Enabled {
		s, err := observability.NewS3Sink(ctx, observability.S3Config{
			Bucket:        t.S3.Bucket,
			Region:        t.S3.Region,
			AccessKeyID:   t.S3.AccessKeyID,
			SecretKey:     t.S3.SecretKey,
			Endpoint:      t.S3.Endpoint,
			PathPrefix:    t.S3.PathPrefix,
			FlushInterval: t.S3.FlushInterval,
			BatchSize:     t.S3.BatchSize,
			Logger:        logger,
		})
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, s)
	}

	if t.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     t.Redis.Addr,
			Password: t.Redis.Password,
			DB:       t.Redis.DB,
		})
		rt.redis = client

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return sinks, fmt.Errorf("connect redis %s: %w", t.Redis.Addr, err)
		}
		sinks = append(sinks, observability.NewRedisSink(client,
			observability.WithRedisKeyPrefix(t.Redis.KeyPrefix),
			observability.WithRedisStreamMaxLen(t.Redis.MaxLen),
		))
	}

	if t.OTelMetrics.Enabled {
		s, err := observability.NewOTelSink(ctx, observability.OTelMetricsConfig{
			Endpoint:       t.OTelMetrics.Endpoint,
			ExporterType:   observability.ExporterType(t.OTelMetrics.Exporter),
			ServiceName:    cfg.Tracing.ServiceName,
			Insecure:       t.OTelMetrics.Insecure,
			Headers:        t.OTelMetrics.Headers,
			ExportInterval: t.OTelMetrics.ExportInterval,
		})
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, s)
	}

	return sinks, nil
}
