package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kait/internal/config"

	"go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// meterName identifies Kait's OTel instrumentation scope.
const meterName = "kait"

// gatewayCallsOTel mirrors Metrics.GatewayCalls (the Prometheus
// counter) as an OTel instrument, so a call is visible to whichever of
// the two metrics surfaces an operator has wired up (§ AMBIENT STACK:
// OTel for push-based collectors, Prometheus for pull-based scraping).
// It is created once, at package initialisation, against the
// process-wide MeterProvider, which is a documented no-op until
// InitOTel installs a real one
// — safe to call unconditionally from the Gateway.
var gatewayCallsOTel = func() otelmetric.Int64Counter {
	c, _ := otel.Meter(meterName).Int64Counter(
		"kait_gateway_calls",
		otelmetric.WithDescription("LLM Gateway calls by provider, method and outcome."),
	)
	return c
}()

// RecordGatewayCall increments the OTel gateway-call counter. Safe to
// call even when telemetry is disabled (resolves to a no-op counter).
func RecordGatewayCall(ctx context.Context, provider, method, outcome string) {
	if gatewayCallsOTel == nil {
		return
	}
	gatewayCallsOTel.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// InitOTel configures tracing and metrics exporters for the Gateway and
// Reflection Pipeline. Returns a shutdown func. When telemetry is
// disabled it returns a no-op shutdown func and a nil error.
func InitOTel(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.OTLP == "" {
		return nil, errors.New("otlp endpoint is required when telemetry is enabled")
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("init resource: %w", err)
	}

	trExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLP), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("init trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(trExp),
		sdktrace.WithResource(res),
	)

	mExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OTLP), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("init metrics exporter: %w", err)
	}
	reader := metric.NewPeriodicReader(mExp, metric.WithInterval(10*time.Second))
	mp := metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if err := host.Start(host.WithMeterProvider(mp)); err != nil {
		return nil, fmt.Errorf("failed to start host metrics: %w", err)
	}

	return func(ctx context.Context) error {
		var first error
		if err := mp.Shutdown(ctx); err != nil {
			first = err
		}
		if err := tp.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
		return first
	}, nil
}
