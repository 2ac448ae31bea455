package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sorryhyun/DiPeO-sub018/eventbus"
)

// MetricsHandler records counters and histograms for node executions,
// failures, run durations and LLM token usage.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
	tokensUsed     metric.Int64Counter

	mu       sync.Mutex
	started  map[string]time.Time // executionID:nodeID -> started at
	runStart map[string]time.Time // executionID -> started at
}

// NewMetricsHandler creates a MetricsHandler backed by the given meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("dipeo.node.executions", metric.WithDescription("Number of node executions"))
	if err != nil {
		return nil, err
	}
	nodeFail, err := meter.Int64Counter("dipeo.node.failures", metric.WithDescription("Number of node failures"))
	if err != nil {
		return nil, err
	}
	nodeDur, err := meter.Float64Histogram("dipeo.node.duration", metric.WithDescription("Node execution duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	runDur, err := meter.Float64Histogram("dipeo.run.duration", metric.WithDescription("Run duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter("dipeo.llm.tokens", metric.WithDescription("LLM tokens consumed"))
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
		tokensUsed:     tokens,
		started:        make(map[string]time.Time),
		runStart:       make(map[string]time.Time),
	}, nil
}

// Handle processes one event, recording the metric its kind implies.
func (h *MetricsHandler) Handle(e eventbus.Event) {
	switch e.Kind {
	case eventbus.KindExecutionStarted:
		h.mu.Lock()
		h.runStart[e.ExecutionID] = e.Timestamp
		h.mu.Unlock()
	case eventbus.KindNodeStarted:
		h.mu.Lock()
		h.started[e.ExecutionID+":"+e.NodeID] = e.Timestamp
		h.mu.Unlock()
	case eventbus.KindNodeCompleted:
		h.recordNode(e, false)
	case eventbus.KindNodeFailed:
		h.recordNode(e, true)
	case eventbus.KindTokenUsage:
		h.recordTokens(e)
	case eventbus.KindExecutionCompleted, eventbus.KindExecutionFailed, eventbus.KindExecutionAborted:
		h.recordRun(e)
	}
}

func (h *MetricsHandler) recordNode(e eventbus.Event, failed bool) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("node_id", e.NodeID))

	h.mu.Lock()
	started, ok := h.started[e.ExecutionID+":"+e.NodeID]
	delete(h.started, e.ExecutionID+":"+e.NodeID)
	h.mu.Unlock()

	if failed {
		h.nodeFailures.Add(ctx, 1, attrs)
		return
	}
	h.nodeExecutions.Add(ctx, 1, attrs)
	if ok {
		h.nodeDuration.Record(ctx, e.Timestamp.Sub(started).Seconds(), attrs)
	}
}

func (h *MetricsHandler) recordTokens(e eventbus.Event) {
	ctx := context.Background()
	input, _ := e.Payload["input"].(int)
	output, _ := e.Payload["output"].(int)
	h.tokensUsed.Add(ctx, int64(input+output), metric.WithAttributes(attribute.String("node_id", e.NodeID)))
}

func (h *MetricsHandler) recordRun(e eventbus.Event) {
	ctx := context.Background()
	h.mu.Lock()
	started, ok := h.runStart[e.ExecutionID]
	delete(h.runStart, e.ExecutionID)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.runDuration.Record(ctx, e.Timestamp.Sub(started).Seconds(), metric.WithAttributes(attribute.String("execution_id", e.ExecutionID)))
}
