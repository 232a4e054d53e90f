// Package observability настраивает трассировку OpenTelemetry.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName — имя трассировщика конвейера.
const TracerName = "github.com/art-injener/satsky-go"

// TracingConfig управляет инициализацией трассировки.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64
	Writer      io.Writer // Куда stdout экспортёр пишет спаны.
}

// ShutdownFunc сбрасывает и останавливает экспортёр.
type ShutdownFunc func(context.Context) error

// InitTracing устанавливает глобальный TracerProvider.
// При выключенной трассировке используется noop провайдер.
func InitTracing(ctx context.Context, cfg TracingConfig, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		logger.DebugContext(ctx, "tracing disabled")

		return func(context.Context) error { return nil }, nil
	}

	tp, err := NewTracerProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "tracing enabled",
		"service_name", cfg.ServiceName,
		"sample_ratio", cfg.SampleRatio,
	)

	return tp.Shutdown, nil
}

// NewTracerProvider создаёт провайдер со stdout экспортёром и ParentBased сэмплером.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	opts := []stdouttrace.Option{stdouttrace.WithoutTimestamps()}
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}

	exp, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

// Tracer возвращает трассировщик конвейера из глобального провайдера.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// ShutdownWithTimeout вызывает shutdown с ограничением по времени; ошибка только логируется.
func ShutdownWithTimeout(ctx context.Context, shutdown ShutdownFunc, logger *slog.Logger) {
	if shutdown == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.WarnContext(ctx, "tracing shutdown failed", "error", err)
	}
}
