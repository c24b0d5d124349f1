package observer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tracepad/tracepad"
)

// stubProvider returns a fixed response.
type stubProvider struct {
	resp tracepad.ChatResponse
	err  error
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Chat(ctx context.Context, req tracepad.ChatRequest) (tracepad.ChatResponse, error) {
	return s.resp, s.err
}

func setupTrace(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func setupMetrics(t *testing.T) (*Instruments, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = mp.Shutdown(context.Background())
	})
	inst, err := newInstruments()
	if err != nil {
		t.Fatal(err)
	}
	return inst, reader
}

func TestTracerEmitsSpans(t *testing.T) {
	exp := setupTrace(t)
	tracer := NewTracer()

	_, span := tracer.Start(context.Background(), "agent.turn",
		tracepad.StringAttr("user", "alice"), tracepad.IntAttr("messages", 3))
	span.Event("tool dispatched", tracepad.StringAttr("tool", "run_code"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "agent.turn" {
		t.Errorf("name = %q", s.Name)
	}
	if len(s.Events) != 1 || s.Events[0].Name != "tool dispatched" {
		t.Errorf("events = %+v", s.Events)
	}
	found := false
	for _, a := range s.Attributes {
		if string(a.Key) == "user" && a.Value.AsString() == "alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("attributes = %v", s.Attributes)
	}
}

func TestTracerRecordsError(t *testing.T) {
	exp := setupTrace(t)
	tracer := NewTracer()

	_, span := tracer.Start(context.Background(), "llm.chat")
	span.Error(errors.New("boom"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Status.Description != "boom" {
		t.Errorf("status = %+v", spans[0].Status)
	}
}

func TestWrapProviderRecordsUsage(t *testing.T) {
	setupTrace(t)
	inst, reader := setupMetrics(t)

	inner := &stubProvider{resp: tracepad.ChatResponse{
		Content: "hi",
		Usage:   tracepad.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
	}}
	p := WrapProvider(inner, "test-model", inst)

	resp, err := p.Chat(context.Background(), tracepad.ChatRequest{})
	if err != nil || resp.Content != "hi" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "llm.token.usage" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 120 {
		t.Errorf("token usage = %d, want 120", total)
	}
}
