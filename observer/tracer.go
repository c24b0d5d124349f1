package observer

import (
	"context"
	"fmt"

	"github.com/tracepad/tracepad"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer adapts the global OTEL TracerProvider to the narrow tracing
// interface the agent loop uses, keeping the loop free of an OTEL import.
// Without a prior Init the provider is a no-op and spans vanish silently.
func NewTracer() tracepad.Tracer {
	return &spanTracer{tr: otel.Tracer(scopeName)}
}

type spanTracer struct {
	tr trace.Tracer
}

func (t *spanTracer) Start(ctx context.Context, name string, attrs ...tracepad.SpanAttr) (context.Context, tracepad.Span) {
	ctx, sp := t.tr.Start(ctx, name, trace.WithAttributes(toAttrs(attrs)...))
	return ctx, &span{sp: sp}
}

// span forwards to the underlying OTEL span.
type span struct {
	sp trace.Span
}

func (s *span) SetAttr(attrs ...tracepad.SpanAttr) {
	s.sp.SetAttributes(toAttrs(attrs)...)
}

func (s *span) Event(name string, attrs ...tracepad.SpanAttr) {
	s.sp.AddEvent(name, trace.WithAttributes(toAttrs(attrs)...))
}

func (s *span) Error(err error) {
	s.sp.RecordError(err)
	s.sp.SetStatus(codes.Error, err.Error())
}

func (s *span) End() {
	s.sp.End()
}

// toAttrs converts span attributes to their OTEL typed form. Types outside
// the supported set degrade to their string rendering rather than being
// dropped.
func toAttrs(attrs []tracepad.SpanAttr) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			kvs[i] = attribute.String(a.Key, v)
		case int:
			kvs[i] = attribute.Int(a.Key, v)
		case int64:
			kvs[i] = attribute.Int64(a.Key, v)
		case float64:
			kvs[i] = attribute.Float64(a.Key, v)
		case bool:
			kvs[i] = attribute.Bool(a.Key, v)
		default:
			kvs[i] = attribute.String(a.Key, fmt.Sprintf("%v", v))
		}
	}
	return kvs
}

// compile-time checks
var (
	_ tracepad.Tracer = (*spanTracer)(nil)
	_ tracepad.Span   = (*span)(nil)
)
