package observer

import (
	"context"
	"time"

	"github.com/tracepad/tracepad"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for LLM observability spans and metrics.
var (
	attrLLMModel    = attribute.Key("llm.model")
	attrLLMProvider = attribute.Key("llm.provider")

	attrTokensInput  = attribute.Key("llm.tokens.input")
	attrTokensOutput = attribute.Key("llm.tokens.output")

	attrToolCount = attribute.Key("llm.tool_count")
)

// ObservedProvider wraps a tracepad.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner  tracepad.Provider
	inst   *Instruments
	model  string
	tracer trace.Tracer
}

// WrapProvider returns an instrumented gateway that emits a span and
// metrics per model call.
func WrapProvider(inner tracepad.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{
		inner:  inner,
		inst:   inst,
		model:  model,
		tracer: otel.Tracer(scopeName),
	}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req tracepad.ChatRequest) (tracepad.ChatResponse, error) {
	ctx, span := o.tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attrLLMModel.String(o.model),
		attrLLMProvider.String(o.inner.Name()),
		attrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attrTokensInput.Int(resp.Usage.InputTokens),
		attrTokensOutput.Int(resp.Usage.OutputTokens),
	)

	modelAttrs := metric.WithAttributes(
		attrLLMModel.String(o.model),
		attrLLMProvider.String(o.inner.Name()),
	)
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(
		attrLLMModel.String(o.model),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(
		attrLLMModel.String(o.model),
		attribute.String("direction", "output"),
	))
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		attrLLMModel.String(o.model),
		attrLLMProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, modelAttrs)

	return resp, err
}

// compile-time check
var _ tracepad.Provider = (*ObservedProvider)(nil)
