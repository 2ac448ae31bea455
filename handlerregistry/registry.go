// Package handlerregistry implements the Handler Registry: a
// typed lookup of node kind -> handler, with a props schema and declared
// service requirements per kind.
package handlerregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// ActivationContext is passed to a handler's Execute method. It exposes the
// callbacks a handler uses to mutate run state: all state mutation goes
// through these callbacks rather than directly.
type ActivationContext struct {
	ExecutionID string
	NodeID      string
	ExecCount   int

	// Variables returns the current run-level variables (read-only snapshot).
	Variables func() map[string]any

	// SetVariable patches a single run-level variable.
	SetVariable func(key string, value any)

	// Emit publishes an ad-hoc telemetry payload tagged to this node's
	// activation (e.g. a mid-flight streaming delta).
	Emit func(kind string, payload map[string]any)
}

// Handler implements execution logic for one node kind.
type Handler interface {
	// Kind returns the node kind this handler serves, e.g. "person_job".
	Kind() string

	// RequiredServices lists service names looked up in the Service Registry
	// before activation. Missing services fail activation with
	// ConfigurationError before Execute runs.
	RequiredServices() []string

	// ValidateProps defensively validates a node's props at activation time
	// (props are also validated once at compile time by the external
	// compiler). Returns a descriptive error if props are invalid.
	ValidateProps(props map[string]any) error

	// Execute runs the handler. It must be side-effect-local: all external
	// effects go through `svc`, all state mutation through `ctx`. Execute may
	// suspend on I/O but must never block the scheduler beyond that I/O.
	Execute(ctx context.Context, actx ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error)
}

// Registry maps node kind -> Handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// New creates an empty handler registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, keyed by its declared Kind(). Registering a kind
// twice overwrites the previous handler but preserves its original
// registration-order position.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind := h.Kind()
	if _, exists := r.handlers[kind]; !exists {
		r.order = append(r.order, kind)
	}
	r.handlers[kind] = h
}

// Get looks up a handler by node kind.
func (r *Registry) Get(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// MustGet looks up a handler by kind, returning a ConfigurationError-shaped
// error if absent. Convenience for call sites that want a single error path.
func (r *Registry) MustGet(kind string) (Handler, error) {
	h, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("handlerregistry: no handler registered for kind %q", kind)
	}
	return h, nil
}

// Kinds returns all registered kinds in registration order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
