package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T, sampleRate float64) (*TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	cfg := DefaultTracingConfig()
	cfg.SampleRate = sampleRate
	tp, err := newTracerProvider(cfg, sdktrace.WithSyncer(exporter))
	if err != nil {
		t.Fatalf("newTracerProvider: %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exporter
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	defer tp.Shutdown(context.Background())

	if tp.Tracer() == nil {
		t.Error("expected non-nil tracer even when disabled")
	}
}

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()

	if cfg.Enabled {
		t.Error("expected Enabled to be false by default")
	}
	if cfg.Endpoint != "localhost:4317" {
		t.Errorf("expected endpoint localhost:4317, got %s", cfg.Endpoint)
	}
	if cfg.ServiceName != "llmgov" {
		t.Errorf("expected service name llmgov, got %s", cfg.ServiceName)
	}
	if cfg.ExporterType != ExporterGRPC {
		t.Errorf("expected grpc exporter, got %s", cfg.ExporterType)
	}
}

func TestGenerateSpan_Success(t *testing.T) {
	tp, exporter := newRecordingTracer(t, 1.0)

	_, span := StartGenerateSpan(context.Background(), tp.Tracer(), GenerateSpanAttributes{
		RequestID:        "req-1",
		PreferredBackend: "openai",
		EstimatedTokens:  42,
		FeatureVersion:   "1.2.3",
	})
	RecordGenerateResult(span, "openai", "gpt-4", 42, 150, 0.0063, false)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name != "llmgov.generate" {
		t.Errorf("unexpected span name %q", s.Name)
	}
	if s.Status.Code != codes.Ok {
		t.Errorf("expected ok status, got %v", s.Status.Code)
	}

	attrs := attrMap(s.Attributes)
	if got := attrs["llmgov.request_id"].AsString(); got != "req-1" {
		t.Errorf("request_id = %q", got)
	}
	if got := attrs["llmgov.preferred_backend"].AsString(); got != "openai" {
		t.Errorf("preferred_backend = %q", got)
	}
	if got := attrs["gen_ai.usage.output_tokens"].AsInt64(); got != 150 {
		t.Errorf("output_tokens = %d", got)
	}
	if _, ok := attrs["llmgov.experiment_id"]; ok {
		t.Error("empty experiment id should not be recorded")
	}
}

func TestGenerateSpan_Error(t *testing.T) {
	tp, exporter := newRecordingTracer(t, 1.0)

	_, span := StartGenerateSpan(context.Background(), tp.Tracer(), GenerateSpanAttributes{RequestID: "req-2"})
	RecordError(span, errors.New("backend openai failed"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected exception event")
	}
}

func TestGenerateSpan_NeverSample(t *testing.T) {
	tp, exporter := newRecordingTracer(t, 0)

	_, span := StartGenerateSpan(context.Background(), tp.Tracer(), GenerateSpanAttributes{RequestID: "req-3"})
	span.End()

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("expected no sampled spans, got %d", n)
	}
}
