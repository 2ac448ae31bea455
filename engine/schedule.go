package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/diagram"
	"github.com/sorryhyun/DiPeO-sub018/eventbus"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/planner"
	"github.com/sorryhyun/DiPeO-sub018/services"
	"github.com/sorryhyun/DiPeO-sub018/snapshotstore"
	"github.com/sorryhyun/DiPeO-sub018/state"
)

// RunOptions configures a single Run invocation.
type RunOptions struct {
	// ExecutionID is generated with uuid.NewString if left empty.
	ExecutionID string
	Variables   map[string]any
	// MaxParallel caps concurrently-dispatched node activations. 0 (or
	// negative) means unbounded.
	MaxParallel int
	Classifier  *planner.Classifier
	RetryPolicy *RetryPolicy
}

// Engine ties the compiled diagram, planner, handler registry, service
// registry, state store and event bus together into the run loop, replacing
// a fixed graph shape with the scheduler's dynamic readiness computation
// over planner.Plan.
type Engine struct {
	Handlers *handlerregistry.Registry
	Services *services.Registry
	State    *state.Store
	Bus      eventbus.Bus

	// Snapshots, if set, receives a flushed snapshot of the run's final
	// state on every terminal transition (completed, failed, or aborted).
	// Left nil, no snapshot is written.
	Snapshots *snapshotstore.Store
}

// New constructs an Engine, wiring the state store to publish to bus.
func New(handlers *handlerregistry.Registry, svc *services.Registry, bus eventbus.Bus) *Engine {
	var emit eventbus.Emitter
	if bus != nil {
		emit = bus.Publish
	}
	return &Engine{
		Handlers: handlers,
		Services: svc,
		State:    state.New(emit),
		Bus:      bus,
	}
}

// nodeResult is what an activation goroutine reports back to the run loop.
type nodeResult struct {
	nodeID      string
	env         *core.Envelope
	branch      string
	iterate     bool
	err         *Error
	continueErr bool
}

// Run executes a compiled diagram to completion (or cancellation) and
// returns the execution ID plus the last-produced endpoint envelope.
func (e *Engine) Run(ctx context.Context, d *diagram.CompiledDiagram, opts RunOptions) (string, *core.Envelope, error) {
	classifier := planner.DefaultClassifier()
	if opts.Classifier != nil {
		classifier = *opts.Classifier
	}
	plan, err := planner.Resolve(d, classifier)
	if err != nil {
		return "", nil, fmt.Errorf("engine: resolve plan: %w", err)
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	e.State.Create(executionID, d.ID, opts.Variables)

	topoRank := computeTopoRank(d, plan)
	priority := make(map[string]int, len(d.Nodes))
	for id, n := range d.Nodes {
		priority[id] = priorityOf(n)
	}

	retryPolicy := DefaultRetryPolicy()
	if opts.RetryPolicy != nil {
		retryPolicy = *opts.RetryPolicy
	}

	rs := newRunState()
	for _, id := range plan.StartSet {
		rs.markReady(id)
	}

	results := make(chan nodeResult)
	inFlight := 0
	var endpointEnv *core.Envelope
	var runFailed bool
	var runFailErr string

	dispatch := func(nodeID string) {
		inFlight++
		node := d.Nodes[nodeID]
		policy := plan.Policies[nodeID]
		go e.activate(ctx, executionID, plan, policy, node, retryPolicy, results)
	}

	for {
		slots := remainingSlots(opts.MaxParallel, inFlight)
		for _, id := range rs.popBatch(slots, priority, topoRank) {
			dispatch(id)
		}

		if inFlight == 0 {
			break
		}

		select {
		case <-ctx.Done():
		case r := <-results:
			inFlight--
			// A result racing with cancellation is still drained below under
			// the ctx.Err() check rather than processed for propagation, so
			// the abort outcome never depends on select's random case order.
			if ctx.Err() == nil {
				switch {
				case r.err != nil && !r.continueErr:
					runFailed = true
					runFailErr = r.err.Error()
				case r.err != nil && r.continueErr:
					// Node failed but the run proceeds; no envelope to propagate.
				default:
					propagate(plan, rs, r)
					if plan.Policies[r.nodeID].IsSink {
						endpointEnv = r.env
					}
					if r.iterate {
						rs.markReady(r.nodeID)
					}
				}
			}
		}

		if ctx.Err() != nil {
			for inFlight > 0 {
				<-results
				inFlight--
			}
			e.State.Complete(executionID, state.RunAborted, ctx.Err().Error())
			e.flushSnapshot(executionID)
			return executionID, endpointEnv, ctx.Err()
		}
	}

	if runFailed {
		e.State.Complete(executionID, state.RunFailed, runFailErr)
		e.flushSnapshot(executionID)
		return executionID, endpointEnv, fmt.Errorf("engine: run %s failed: %s", executionID, runFailErr)
	}
	e.State.Complete(executionID, state.RunCompleted, "")
	e.flushSnapshot(executionID)
	return executionID, endpointEnv, nil
}

// flushSnapshot persists the run's final state once it has reached a
// terminal status, per spec §4.3's "completed state is flushed to the
// snapshot store" requirement. A nil Snapshots store (the default) makes
// this a no-op, e.g. for sub-diagram child runs that share the parent's
// lifetime and don't need independent resumability.
func (e *Engine) flushSnapshot(executionID string) {
	if e.Snapshots == nil {
		return
	}
	st, ok := e.State.Get(executionID)
	if !ok {
		return
	}
	// iterationDone is not tracked as persistent engine state today — a
	// PersonJob's loop-closed flag lives only in the triggering envelope's
	// metadata (see handlers.loopClosedByDownstream) — so a resumed run
	// re-derives it from the next feedback envelope rather than from the
	// snapshot.
	snap := snapshotstore.FromState(st, nil)
	_ = e.Snapshots.Save(snap)
}

// remainingSlots returns how many nodes may be dispatched this round. A
// non-positive MaxParallel means unbounded (-1 signals popBatch to take all
// ready nodes).
func remainingSlots(maxParallel, inFlight int) int {
	if maxParallel <= 0 {
		return -1
	}
	slots := maxParallel - inFlight
	if slots < 0 {
		return 0
	}
	return slots
}

// propagate fans a completed node's result out to its outgoing edges,
// marking downstream nodes ready once their join policy is satisfied. A
// condition node propagates only along the edge matching its chosen branch;
// the other branch is cascaded as skipped.
func propagate(plan *planner.Plan, rs *runState, r nodeResult) {
	policy := plan.Policies[r.nodeID]
	for _, e := range plan.Outgoing[r.nodeID] {
		if e.Feedback {
			// A feedback (loop-closing) edge's readiness is driven by the
			// node's own iterate signal below, not generic edge-firing —
			// input resolution still reads the prior output directly from
			// the state store regardless of this edge's fired/unfired state.
			continue
		}
		if policy.IsChoice && e.SourceHandle != r.branch {
			cascadeSkip(plan, rs, e.TargetNodeID)
			continue
		}
		rs.markFired(e.TargetNodeID, r.nodeID)
		if readyToActivate(plan, rs, e.TargetNodeID) {
			rs.markReady(e.TargetNodeID)
		}
	}
}

// readyToActivate reports whether nodeID has received enough inbound
// envelopes this activation cycle to run. Sink nodes (Endpoint) activate on
// the first arrival; everything else, including a PersonJob's first
// activation, waits for every non-feedback, non-skipped source. A PersonJob's
// later iterations are re-queued by its iterate signal, not through here.
func readyToActivate(plan *planner.Plan, rs *runState, nodeID string) bool {
	policy := plan.Policies[nodeID]
	fired := rs.firedSources(nodeID)
	if len(fired) == 0 {
		return false
	}
	if policy.IsSink {
		return true
	}
	for _, e := range plan.Incoming[nodeID] {
		if e.Feedback || rs.isSkipped(e.SourceNodeID) {
			continue
		}
		if !fired[e.SourceNodeID] {
			return false
		}
	}
	return true
}

// cascadeSkip marks nodeID (and, transitively, any of its own sole-dependent
// downstream nodes) as skipped when a condition node didn't choose the
// branch leading to it. A node with more than one non-feedback inbound edge
// is left alone: another active path may still feed it.
func cascadeSkip(plan *planner.Plan, rs *runState, nodeID string) {
	if rs.isSkipped(nodeID) {
		return
	}
	nonFeedback := 0
	for _, e := range plan.Incoming[nodeID] {
		if !e.Feedback {
			nonFeedback++
		}
	}
	if nonFeedback > 1 {
		return
	}
	rs.markSkipped(nodeID)
	for _, e := range plan.Outgoing[nodeID] {
		cascadeSkip(plan, rs, e.TargetNodeID)
	}
}

// activate runs one node's full activation lifecycle: status transitions,
// input resolution, service/prop validation, retried handler execution, and
// output recording. It reports its outcome on results and never touches
// runState directly — only the run loop's goroutine owns scheduling state.
func (e *Engine) activate(ctx context.Context, executionID string, plan *planner.Plan, policy planner.NodePolicy, node diagram.NodeDef, retryPolicy RetryPolicy, results chan<- nodeResult) {
	nodeID := node.ID
	priorCount := e.State.ExecCount(executionID, nodeID)

	if err := e.State.SetNodeStatus(executionID, nodeID, state.StatusRunning, false, nil); err != nil {
		e.reportFailure(executionID, node, NewError(CodeInternal, err.Error(), nodeID, err), results)
		return
	}
	e.State.IncrementExecCount(executionID, nodeID)

	inputs, err := resolveInputs(e.State, executionID, plan, nodeID, policy)
	if err != nil {
		e.failNode(executionID, node, NewError(CodeInputResolution, err.Error(), nodeID, err), results)
		return
	}

	handler, herr := e.Handlers.MustGet(node.Kind)
	if herr != nil {
		e.failNode(executionID, node, NewError(CodeConfiguration, herr.Error(), nodeID, herr), results)
		return
	}
	if err := e.Services.Require(nodeID, handler.RequiredServices()); err != nil {
		e.failNode(executionID, node, NewError(CodeConfiguration, err.Error(), nodeID, err), results)
		return
	}
	if err := handler.ValidateProps(node.Props); err != nil {
		e.failNode(executionID, node, NewError(CodeValidation, err.Error(), nodeID, err), results)
		return
	}

	actx := e.activationContext(executionID, nodeID, priorCount)
	onRetry := func(attempt int, rerr *Error) {
		if e.Bus == nil {
			return
		}
		e.Bus.Publish(eventbus.New(eventbus.Kind("node_retry"), executionID).
			WithNode(nodeID).
			WithPayload("attempt", attempt).
			WithPayload("error", rerr.Error()))
	}

	resultAny, _, doErr := Do(ctx, retryPolicy, onRetry, func(int) (any, error) {
		env, herr := handler.Execute(ctx, actx, node.Props, inputs, e.Services)
		if herr != nil {
			return nil, classifyHandlerError(nodeID, herr)
		}
		return env, nil
	})
	if doErr != nil {
		e.failNode(executionID, node, asEngineError(nodeID, doErr), results)
		return
	}

	env, _ := resultAny.(*core.Envelope)
	if env == nil {
		env = core.NewEnvelope()
	}
	env.MarkProduced(nodeID)
	e.State.SetNodeOutput(executionID, nodeID, env)

	if usage, ok := tokenUsageFromMeta(env); ok {
		e.State.AddTokenUsage(executionID, nodeID, usage)
	}

	branch := ""
	if policy.IsChoice {
		if v, ok := env.Meta("branch"); ok {
			if s, ok := v.(string); ok {
				branch = s
			}
		}
	}

	iterate := false
	if policy.IsIterating {
		if v, ok := env.Meta("iterate"); ok {
			if b, ok := v.(bool); ok {
				iterate = b
			}
		}
	}

	if iterate {
		e.State.SetNodeStatus(executionID, nodeID, state.StatusCompleted, false, nil)
		e.State.SetNodeStatus(executionID, nodeID, state.StatusReady, true, nil)
	} else {
		e.State.SetNodeStatus(executionID, nodeID, state.StatusCompleted, false, nil)
	}

	results <- nodeResult{nodeID: nodeID, env: env, branch: branch, iterate: iterate}
}

func (e *Engine) activationContext(executionID, nodeID string, priorCount int) handlerregistry.ActivationContext {
	return handlerregistry.ActivationContext{
		ExecutionID: executionID,
		NodeID:      nodeID,
		ExecCount:   priorCount,
		Variables:   func() map[string]any { return e.State.Variables(executionID) },
		SetVariable: func(key string, value any) {
			e.State.UpdateVariables(executionID, map[string]any{key: value})
		},
		Emit: func(kind string, payload map[string]any) {
			if e.Bus == nil {
				return
			}
			ev := eventbus.New(eventbus.Kind(kind), executionID).WithNode(nodeID)
			for k, v := range payload {
				ev = ev.WithPayload(k, v)
			}
			e.Bus.Publish(ev)
		},
	}
}

// failNode records a node failure in the state store and reports it on
// results, honoring the node's continue_on_error prop.
func (e *Engine) failNode(executionID string, node diagram.NodeDef, eerr *Error, results chan<- nodeResult) {
	nodeErr := &core.NodeError{
		NodeID:  node.ID,
		Kind:    string(eerr.Code),
		Message: eerr.Message,
		Attempt: eerr.Attempt,
		At:      time.Now(),
		Details: eerr.Details,
		Cause:   eerr.Cause,
	}
	e.State.SetNodeStatus(executionID, node.ID, state.StatusFailed, false, nodeErr)
	e.reportFailure(executionID, node, eerr, results)
}

func (e *Engine) reportFailure(executionID string, node diagram.NodeDef, eerr *Error, results chan<- nodeResult) {
	continueOnError, _ := node.Props["continue_on_error"].(bool)
	results <- nodeResult{nodeID: node.ID, err: eerr, continueErr: continueOnError}
}

// classifyHandlerError maps a handler's returned error onto the engine's
// error taxonomy. Handlers may already return an *Error for
// precise classification (e.g. ExternalServiceError for a retryable
// dependency failure); anything else defaults to HandlerError.
func classifyHandlerError(nodeID string, err error) *Error {
	if ee, ok := err.(*Error); ok {
		return ee
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeCancelled, err.Error(), nodeID, err)
	}
	var cfgErr *services.ConfigurationError
	if errors.As(err, &cfgErr) {
		return NewError(CodeConfiguration, err.Error(), nodeID, err)
	}
	return NewError(CodeHandler, err.Error(), nodeID, err)
}

// asEngineError normalizes Do's returned error, which is either the last
// classified *Error from fn or a bare context error from mid-backoff
// cancellation.
func asEngineError(nodeID string, err error) *Error {
	if ee, ok := err.(*Error); ok {
		return ee
	}
	return NewError(CodeCancelled, err.Error(), nodeID, err)
}

func tokenUsageFromMeta(env *core.Envelope) (core.TokenUsage, bool) {
	v, ok := env.Meta("token_usage")
	if !ok {
		return core.TokenUsage{}, false
	}
	u, ok := v.(core.TokenUsage)
	return u, ok
}
