package observability_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sorryhyun/DiPeO-sub018/eventbus"
	"github.com/sorryhyun/DiPeO-sub018/observability"
)

func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return exporter, tp
}

func TestTracingHandler_ExecutionStartedCreatesRootSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := observability.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(eventbus.Event{Kind: eventbus.KindExecutionStarted, ExecutionID: "exec-1", Timestamp: now})
	h.Handle(eventbus.Event{Kind: eventbus.KindExecutionCompleted, ExecutionID: "exec-1", Timestamp: now.Add(100 * time.Millisecond)})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "run:exec-1" {
		t.Errorf("expected span name 'run:exec-1', got %q", spans[0].Name)
	}
	if spans[0].Status.Code != otelcodes.Ok {
		t.Errorf("expected Ok status, got %v", spans[0].Status.Code)
	}
}

func TestTracingHandler_NodeSpanIsChildOfRun(t *testing.T) {
	exporter, tp := newTestTracer()
	h := observability.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(eventbus.Event{Kind: eventbus.KindExecutionStarted, ExecutionID: "exec-1", Timestamp: now})
	h.Handle(eventbus.Event{Kind: eventbus.KindNodeStarted, ExecutionID: "exec-1", NodeID: "node-a", Timestamp: now.Add(10 * time.Millisecond)})

	sc := h.ActiveSpanContext("exec-1", "node-a")
	if !sc.IsValid() {
		t.Fatal("expected valid node span context after node started")
	}

	h.Handle(eventbus.Event{Kind: eventbus.KindNodeCompleted, ExecutionID: "exec-1", NodeID: "node-a", Timestamp: now.Add(20 * time.Millisecond)})
	h.Handle(eventbus.Event{Kind: eventbus.KindExecutionCompleted, ExecutionID: "exec-1", Timestamp: now.Add(30 * time.Millisecond)})

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans (run + node), got %d", len(spans))
	}

	var nodeSpan, runSpan *tracetest.SpanStub
	for i := range spans {
		switch spans[i].Name {
		case "node:node-a":
			nodeSpan = &spans[i]
		case "run:exec-1":
			runSpan = &spans[i]
		}
	}
	if nodeSpan == nil || runSpan == nil {
		t.Fatal("expected both run and node spans")
	}
	if nodeSpan.Parent.TraceID() != runSpan.SpanContext.TraceID() {
		t.Error("expected node span to share trace ID with run span")
	}
	if nodeSpan.Parent.SpanID() != runSpan.SpanContext.SpanID() {
		t.Error("expected node span's parent to be the run span")
	}
}

func TestTracingHandler_NodeFailedRecordsErrorAndEndsSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := observability.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(eventbus.Event{Kind: eventbus.KindExecutionStarted, ExecutionID: "exec-1", Timestamp: now})
	h.Handle(eventbus.Event{Kind: eventbus.KindNodeStarted, ExecutionID: "exec-1", NodeID: "node-fail", Timestamp: now.Add(10 * time.Millisecond)})
	h.Handle(eventbus.Event{
		Kind: eventbus.KindNodeFailed, ExecutionID: "exec-1", NodeID: "node-fail", Timestamp: now.Add(20 * time.Millisecond),
		Payload: map[string]any{"error": "boom"},
	})

	sc := h.ActiveSpanContext("exec-1", "node-fail")
	if sc.IsValid() {
		t.Error("expected node span to be removed from the active map after failure")
	}

	h.Handle(eventbus.Event{
		Kind: eventbus.KindExecutionFailed, ExecutionID: "exec-1", Timestamp: now.Add(30 * time.Millisecond),
		Payload: map[string]any{"error": "boom"},
	})

	spans := exporter.GetSpans()
	for _, s := range spans {
		if s.Name == "node:node-fail" {
			if s.Status.Code != otelcodes.Error {
				t.Errorf("expected Error status, got %v", s.Status.Code)
			}
			if s.Status.Description != "boom" {
				t.Errorf("expected description 'boom', got %q", s.Status.Description)
			}
			if len(s.Events) == 0 {
				t.Error("expected a recorded error event on the failed span")
			}
			return
		}
	}
	t.Fatal("node:node-fail span not found")
}

func TestTracingHandler_ExecutionFailedSetsErrorStatus(t *testing.T) {
	exporter, tp := newTestTracer()
	h := observability.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(eventbus.Event{Kind: eventbus.KindExecutionStarted, ExecutionID: "exec-2", Timestamp: now})
	h.Handle(eventbus.Event{
		Kind: eventbus.KindExecutionFailed, ExecutionID: "exec-2", Timestamp: now.Add(50 * time.Millisecond),
		Payload: map[string]any{"error": "node exploded"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error {
		t.Errorf("expected Error status, got %v", spans[0].Status.Code)
	}
}
