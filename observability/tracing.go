// Package observability wires OpenTelemetry spans and metrics onto the
// engine's event bus, purely additive: it never changes scheduling or
// handler semantics, only decorates the events the engine already emits.
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sorryhyun/DiPeO-sub018/eventbus"
)

// TracingHandler translates engine events into OpenTelemetry spans: one root
// span per execution, one child span per node activation.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	nodeSpans map[string]trace.Span
}

// NewTracingHandler creates a handler that starts spans on the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle processes one event, starting or ending spans as its kind requires.
func (h *TracingHandler) Handle(e eventbus.Event) {
	switch e.Kind {
	case eventbus.KindExecutionStarted:
		h.handleExecutionStarted(e)
	case eventbus.KindNodeStarted:
		h.handleNodeStarted(e)
	case eventbus.KindNodeCompleted:
		h.handleNodeEnded(e, codes.Ok, "")
	case eventbus.KindNodeFailed:
		h.handleNodeFailed(e)
	case eventbus.KindExecutionCompleted, eventbus.KindExecutionFailed, eventbus.KindExecutionAborted:
		h.handleExecutionEnded(e)
	}
}

func (h *TracingHandler) handleExecutionStarted(e eventbus.Event) {
	ctx, span := h.tracer.Start(context.Background(), "run:"+e.ExecutionID,
		trace.WithAttributes(attribute.String("dipeo.execution_id", e.ExecutionID)),
		trace.WithTimestamp(e.Timestamp),
	)
	h.mu.Lock()
	h.runSpans[e.ExecutionID] = span
	h.runCtxs[e.ExecutionID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e eventbus.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.ExecutionID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("dipeo.execution_id", e.ExecutionID),
			attribute.String("dipeo.node_id", e.NodeID),
		),
		trace.WithTimestamp(e.Timestamp),
	)

	key := e.ExecutionID + ":" + e.NodeID
	h.mu.Lock()
	h.nodeSpans[key] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeEnded(e eventbus.Event, status codes.Code, msg string) {
	key := e.ExecutionID + ":" + e.NodeID
	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	span.SetStatus(status, msg)
	span.End(trace.WithTimestamp(e.Timestamp))
}

func (h *TracingHandler) handleNodeFailed(e eventbus.Event) {
	msg := "node failed"
	if v, found := e.Payload["error"]; found {
		if s, ok := v.(string); ok {
			msg = s
		}
	}
	key := e.ExecutionID + ":" + e.NodeID
	h.mu.RLock()
	span, ok := h.nodeSpans[key]
	h.mu.RUnlock()
	if ok {
		span.RecordError(spanError(msg), trace.WithTimestamp(e.Timestamp))
	}
	h.handleNodeEnded(e, codes.Error, msg)
}

func (h *TracingHandler) handleExecutionEnded(e eventbus.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.ExecutionID]
	if ok {
		delete(h.runSpans, e.ExecutionID)
		delete(h.runCtxs, e.ExecutionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("dipeo.status", string(e.Kind)))
	if e.Kind == eventbus.KindExecutionFailed {
		msg := "run failed"
		if v, found := e.Payload["error"]; found {
			if s, ok := v.(string); ok {
				msg = s
			}
		}
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Timestamp))
}

// ActiveSpanContext returns the SpanContext for a node's active span, or an
// empty SpanContext if none is active.
func (h *TracingHandler) ActiveSpanContext(executionID, nodeID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	span, ok := h.nodeSpans[executionID+":"+nodeID]
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

type spanError string

func (e spanError) Error() string { return string(e) }
