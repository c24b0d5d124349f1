// Package observer provides OTEL-based observability for the agent runtime.
//
// It exposes a tracepad.Tracer backed by OpenTelemetry and an instrumented
// model gateway that emits traces and metrics. Export goes to any
// OTLP-compatible backend.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const scopeName = "github.com/tracepad/tracepad/observer"

// Instruments holds the OTEL instruments used by the observer wrappers.
type Instruments struct {
	Meter metric.Meter

	TokenUsage   metric.Int64Counter
	LLMRequests  metric.Int64Counter
	LLMDuration  metric.Float64Histogram
	Turns        metric.Int64Counter
	TurnDuration metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// endpoint overrides the collector address; empty defers to the standard
// OTEL env vars. Returns a shutdown function for application exit.
func Init(ctx context.Context, endpoint string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("tracepad")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	var traceOpts []otlptracehttp.Option
	var metricOpts []otlpmetrichttp.Option
	if endpoint != "" {
		traceOpts = append(traceOpts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}
	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	turns, err := meter.Int64Counter("agent.turns",
		metric.WithDescription("Agent turn count"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}
	turnDuration, err := meter.Float64Histogram("agent.turn.duration",
		metric.WithDescription("Agent turn duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Meter:        meter,
		TokenUsage:   tokenUsage,
		LLMRequests:  llmRequests,
		LLMDuration:  llmDuration,
		Turns:        turns,
		TurnDuration: turnDuration,
	}, nil
}
