package observability

// Instrument names follow https://opentelemetry.io/docs/specs/semconv/gen-ai/

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ExporterType selects the OTLP transport.
type ExporterType string

const (
	ExporterGRPC ExporterType = "grpc"
	ExporterHTTP ExporterType = "http"
)

// OTelMetricsConfig contains configuration for the OTLP metrics sink.
type OTelMetricsConfig struct {
	Endpoint       string
	ExporterType   ExporterType
	ServiceName    string
	Insecure       bool
	Headers        map[string]string
	ExportInterval time.Duration
}

// DefaultOTelMetricsConfig returns local-collector defaults.
func DefaultOTelMetricsConfig() OTelMetricsConfig {
	return OTelMetricsConfig{
		Endpoint:       "localhost:4317",
		ExporterType:   ExporterGRPC,
		ServiceName:    "llmgov",
		Insecure:       true,
		ExportInterval: 60 * time.Second,
	}
}

// OTelSink records gen_ai client metrics for each telemetry record.
type OTelSink struct {
	provider *sdkmetric.MeterProvider

	operationDuration metric.Float64Histogram
	tokenUsage        metric.Int64Counter
	tokenCost         metric.Float64Counter
	requestCount      metric.Int64Counter
	errorCount        metric.Int64Counter
}

// NewOTelSink builds a meter provider exporting over OTLP.
func NewOTelSink(ctx context.Context, cfg OTelMetricsConfig) (*OTelSink, error) {
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = DefaultOTelMetricsConfig().ExportInterval
	}

	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch cfg.ExporterType {
	case ExporterHTTP:
		exporter, err = createHTTPMetricExporter(ctx, cfg)
	default:
		exporter, err = createGRPCMetricExporter(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("otel: create exporter: %w", err)
	}

	return newOTelSink(cfg.ServiceName, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval)))
}

func newOTelSink(serviceName string, reader sdkmetric.Reader) (*OTelSink, error) {
	if serviceName == "" {
		serviceName = "llmgov"
	}
	res, err := serviceResource(serviceName)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	s := &OTelSink{provider: provider}
	if err := s.initInstruments(provider.Meter("llmgov")); err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *OTelSink) initInstruments(meter metric.Meter) error {
	var err error

	s.operationDuration, err = meter.Float64Histogram(
		"gen_ai.client.operation.duration",
		metric.WithDescription("Duration of GenAI operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	s.tokenUsage, err = meter.Int64Counter(
		"gen_ai.client.token.usage",
		metric.WithDescription("Number of tokens used"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return err
	}

	s.tokenCost, err = meter.Float64Counter(
		"gen_ai.client.token.cost",
		metric.WithDescription("Cost of tokens used"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return err
	}

	s.requestCount, err = meter.Int64Counter(
		"gen_ai.client.request.count",
		metric.WithDescription("Number of GenAI requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	s.errorCount, err = meter.Int64Counter(
		"gen_ai.client.error.count",
		metric.WithDescription("Number of GenAI errors"),
		metric.WithUnit("{error}"),
	)
	return err
}

// Name returns "otel".
func (s *OTelSink) Name() string { return "otel" }

// Emit records rec on the gen_ai instruments.
func (s *OTelSink) Emit(ctx context.Context, rec *Record) error {
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.system", rec.Provider),
		attribute.String("gen_ai.request.model", rec.Model),
		attribute.String("gen_ai.operation.name", "generate"),
		attribute.Bool("llmgov.cache_hit", rec.CacheHit),
	}
	opt := metric.WithAttributes(attrs...)

	s.operationDuration.Record(ctx, rec.LatencyMs/1000, opt)
	s.requestCount.Add(ctx, 1, opt)
	s.tokenCost.Add(ctx, rec.CostUSD, opt)

	inputAttrs := append(append([]attribute.KeyValue{}, attrs...), attribute.String("gen_ai.token.type", "input"))
	s.tokenUsage.Add(ctx, int64(rec.Tokens.Input), metric.WithAttributes(inputAttrs...))
	outputAttrs := append(append([]attribute.KeyValue{}, attrs...), attribute.String("gen_ai.token.type", "output"))
	s.tokenUsage.Add(ctx, int64(rec.Tokens.Output), metric.WithAttributes(outputAttrs...))

	if !rec.Success {
		s.errorCount.Add(ctx, 1, opt)
	}
	return nil
}

// Shutdown flushes and stops the meter provider.
func (s *OTelSink) Shutdown(ctx context.Context) error {
	return s.provider.Shutdown(ctx)
}

func createGRPCMetricExporter(ctx context.Context, cfg OTelMetricsConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func createHTTPMetricExporter(ctx context.Context, cfg OTelMetricsConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	return otlpmetrichttp.New(ctx, opts...)
}
