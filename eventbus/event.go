// Package eventbus implements the Event Bus: pub/sub fan-out of
// execution/node lifecycle events to subscribers, plus optional durable
// storage for replay.
package eventbus

import "time"

// Kind identifies the type of event emitted during a run.
type Kind string

const (
	KindExecutionStarted          Kind = "execution_started"
	KindNodeStarted               Kind = "node_started"
	KindNodeCompleted             Kind = "node_completed"
	KindNodeFailed                Kind = "node_failed"
	KindExecutionCompleted        Kind = "execution_completed"
	KindExecutionFailed           Kind = "execution_failed"
	KindExecutionAborted          Kind = "execution_aborted"
	KindTokenUsage                Kind = "token_usage"
	KindInteractivePromptRequired Kind = "interactive_prompt_required"
	KindInteractiveResponse       Kind = "interactive_response"
)

// Critical reports whether this kind must never be dropped under
// backpressure: backpressure drops oldest non-critical events while
// preserving lifecycle events.
func (k Kind) Critical() bool {
	switch k {
	case KindExecutionStarted, KindExecutionCompleted, KindExecutionFailed, KindExecutionAborted:
		return true
	default:
		return false
	}
}

// Event is a structured, streamable record of what happened during a run.
type Event struct {
	Kind        Kind
	ExecutionID string
	NodeID      string
	Timestamp   time.Time

	// Seq is a monotonic sequence number per execution_id (1-indexed),
	// used to preserve delivery ordering.
	Seq uint64

	// Payload carries event-specific data. Keep it small; large bodies
	// belong in the execution state store, referenced here if at all.
	Payload map[string]any
}

// New creates an event stamped with the current time and an empty payload.
func New(kind Kind, executionID string) Event {
	return Event{
		Kind:        kind,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Payload:     make(map[string]any),
	}
}

// WithNode sets the node ID on the event and returns it for chaining.
func (e Event) WithNode(nodeID string) Event {
	e.NodeID = nodeID
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// Emitter publishes a single event. Handlers and the engine loop both emit
// through this function type rather than holding a bus reference directly.
type Emitter func(Event)
