package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the governor's tracer.
const TracerName = "llmgov"

// TracingConfig contains configuration for OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool
	Endpoint     string       // OTLP endpoint, e.g. "localhost:4317"
	ExporterType ExporterType // grpc or http
	ServiceName  string
	SampleRate   float64 // 0.0 to 1.0
	Insecure     bool
}

// DefaultTracingConfig returns tracing disabled with local-collector settings.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:      false,
		Endpoint:     "localhost:4317",
		ExporterType: ExporterGRPC,
		ServiceName:  "llmgov",
		SampleRate:   1.0,
		Insecure:     true,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing. When disabled it returns
// the global (no-op by default) tracer.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.ExporterType {
	case ExporterHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	tp, err := newTracerProvider(cfg, sdktrace.WithBatcher(exporter))
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

func newTracerProvider(cfg TracingConfig, processor sdktrace.TracerProviderOption) (*TracerProvider, error) {
	res, err := serviceResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

func serviceResource(serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = "llmgov"
	}
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			attribute.String("gen_ai.system", "llmgov"),
		),
	)
}

// Tracer returns the tracer instance.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes pending spans and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// GenerateSpanAttributes are the request-level attributes of a generate span.
type GenerateSpanAttributes struct {
	RequestID        string
	PreferredBackend string
	EstimatedTokens  int
	HasSystemPrompt  bool
	FeatureVersion   string
	ExperimentID     string
}

// StartGenerateSpan starts the span covering one governed generate call.
func StartGenerateSpan(ctx context.Context, tracer trace.Tracer, attrs GenerateSpanAttributes) (context.Context, trace.Span) {
	kv := []attribute.KeyValue{
		attribute.String("llmgov.request_id", attrs.RequestID),
		attribute.Int("llmgov.estimated_input_tokens", attrs.EstimatedTokens),
		attribute.Bool("llmgov.system_prompt", attrs.HasSystemPrompt),
	}
	if attrs.PreferredBackend != "" {
		kv = append(kv, attribute.String("llmgov.preferred_backend", attrs.PreferredBackend))
	}
	if attrs.FeatureVersion != "" {
		kv = append(kv, attribute.String("llmgov.feature_version", attrs.FeatureVersion))
	}
	if attrs.ExperimentID != "" {
		kv = append(kv, attribute.String("llmgov.experiment_id", attrs.ExperimentID))
	}
	return tracer.Start(ctx, "llmgov.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(kv...),
	)
}

// RecordGenerateResult records the outcome of a successful call on span.
func RecordGenerateResult(span trace.Span, backend, model string, inputTokens, outputTokens int, costUSD float64, cacheHit bool) {
	span.SetAttributes(
		attribute.String("gen_ai.system", backend),
		attribute.String("gen_ai.response.model", model),
		attribute.Int("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int("gen_ai.usage.output_tokens", outputTokens),
		attribute.Float64("llmgov.cost_usd", costUSD),
		attribute.Bool("llmgov.cache_hit", cacheHit),
	)
	span.SetStatus(codes.Ok, "")
}

// RecordError records err on span and marks it failed.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool("error", true))
}
