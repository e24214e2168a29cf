package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_InvalidEndpoint(t *testing.T) {
	// gRPC dials lazily, so an unreachable endpoint does not fail init.
	ctx := context.Background()

	shutdown, err := InitTracer(ctx, "test-service", "invalid-endpoint:9999")
	if err != nil {
		// Some environments may fail immediately, that's also acceptable
		t.Logf("InitTracer failed as expected in this environment: %v", err)
		return
	}

	// If we got here, shutdown should work
	if shutdown == nil {
		t.Error("expected shutdown function to be non-nil")
	}

	// Try shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	// Shutdown should not panic
	_ = shutdown(shutdownCtx)
}

func TestInit_ValidServiceName(t *testing.T) {
	ctx := context.Background()

	// Using localhost which won't connect but won't error on init
	shutdown, err := InitTracer(ctx, "my-test-service", "localhost:4317")
	if err != nil {
		t.Logf("InitTracer returned error (may be expected in test environment): %v", err)
		return
	}

	if shutdown == nil {
		t.Error("expected shutdown function to be non-nil")
	}

	// Clean up
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}

func TestInit_EmptyServiceName(t *testing.T) {
	ctx := context.Background()

	// Empty service name should still work (just not ideal)
	shutdown, err := InitTracer(ctx, "", "localhost:4317")
	if err != nil {
		t.Logf("InitTracer returned error: %v", err)
		return
	}

	if shutdown == nil {
		t.Error("expected shutdown function to be non-nil")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}

func TestInjectExtractHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectHeaders(ctx)
	if headers["traceparent"] == "" {
		t.Fatalf("expected traceparent header, got %v", headers)
	}

	got := trace.SpanContextFromContext(ExtractHeaders(context.Background(), headers))
	if got.TraceID() != sc.TraceID() {
		t.Errorf("trace id = %s, want %s", got.TraceID(), sc.TraceID())
	}
	if !got.IsRemote() {
		t.Error("extracted span context should be remote")
	}
}

func TestExtractHeaders_Empty(t *testing.T) {
	ctx := context.Background()
	if ExtractHeaders(ctx, nil) != ctx {
		t.Error("expected the same context back for empty headers")
	}
}
