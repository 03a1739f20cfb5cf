package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "sfulink" {
		t.Errorf("expected service name 'sfulink', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("tracing must be disabled by default")
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider failed: %v", err)
	}
}

func TestTraceNegotiation_RecordsAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(prev)

	ctx, span := TraceNegotiation(context.Background(), "cam-1", "subscriber", "a-1", 3)
	AddSpanAttributes(ctx, ProfileKey.String("low"))
	RecordError(ctx, errors.New("ice failed"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Name() != "session.negotiate" {
		t.Errorf("unexpected span name %q", ended[0].Name())
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs[StreamIDKey].AsString() != "cam-1" {
		t.Errorf("stream id attribute = %v", attrs[StreamIDKey])
	}
	if attrs[GenerationKey].AsInt64() != 3 {
		t.Errorf("generation attribute = %v", attrs[GenerationKey])
	}
	if attrs[ProfileKey].AsString() != "low" {
		t.Errorf("profile attribute = %v", attrs[ProfileKey])
	}
	if len(ended[0].Events()) == 0 {
		t.Error("expected recorded error event")
	}
}

func TestStartSpan_WithoutProvider(t *testing.T) {
	_, span := TraceSignalMessage(context.Background(), "startResponse", "cam-1")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}
