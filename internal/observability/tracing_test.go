package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/art-injener/satsky-go/internal/logging"
)

func TestNewTracerProvider_ExportsSpans(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := context.Background()

	tp, err := NewTracerProvider(ctx, TracingConfig{ServiceName: "satsky-test", SampleRatio: 1, Writer: &buf})
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}

	_, span := tp.Tracer(TracerName).Start(ctx, "tracker.Look")
	span.End()

	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "tracker.Look") || !strings.Contains(out, "satsky-test") {
		t.Errorf("exported spans = %s", out)
	}
}

func TestNewTracerProvider_ZeroRatioDropsSpans(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := context.Background()

	tp, err := NewTracerProvider(ctx, TracingConfig{ServiceName: "satsky-test", SampleRatio: 0, Writer: &buf})
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}

	_, span := tp.Tracer(TracerName).Start(ctx, "dropped")
	span.End()
	_ = tp.Shutdown(ctx)

	if strings.Contains(buf.String(), "dropped") {
		t.Errorf("span exported with zero sample ratio: %s", buf.String())
	}
}

// Тесты ниже меняют глобальный провайдер и не запускаются параллельно.

func TestInitTracing_Disabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitTracing(ctx, TracingConfig{}, logging.Discard())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("noop shutdown: %v", err)
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		t.Error("disabled tracing installed an SDK provider")
	}

	_, span := Tracer().Start(ctx, "noop")
	if span.SpanContext().IsValid() {
		t.Error("noop tracer produced a valid span context")
	}
	span.End()
}

func TestInitTracing_Enabled(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled:     true,
		ServiceName: "satsky",
		SampleRatio: 1,
		Writer:      &buf,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := Tracer().Start(ctx, "handlers.look")
	if !span.SpanContext().IsValid() {
		t.Error("enabled tracing produced an invalid span context")
	}
	span.End()

	ShutdownWithTimeout(ctx, shutdown, logging.Discard())

	if !strings.Contains(buf.String(), "handlers.look") {
		t.Errorf("span not exported: %s", buf.String())
	}

	// Возвращаем noop провайдер для остальных тестов пакета.
	_, _ = InitTracing(ctx, TracingConfig{}, logging.Discard())
}
