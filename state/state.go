// Package state implements the Execution State Store: the
// authoritative in-memory record of one run's node statuses, outputs,
// variables, counters, and token totals. Snapshot persistence lives in
// package snapshotstore.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/eventbus"
)

// Status is a node's lifecycle status. Status may only transition forward in
// the sequence pending -> ready -> running -> (completed | failed | skipped),
// except that an iterating handler (PersonJob loop) may reset a completed
// node back to ready while the run is still running.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

var forwardRank = map[Status]int{
	StatusPending:   0,
	StatusReady:     1,
	StatusRunning:   2,
	StatusCompleted: 3,
	StatusFailed:    3,
	StatusSkipped:   3,
}

// RunStatus is the overall execution's lifecycle status.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// NodeState is the per-node record held by the store.
type NodeState struct {
	Status    Status
	ExecCount int
	Output    *core.Envelope
	Error     *core.NodeError
	Usage     core.TokenUsage
}

// State is the full per-execution snapshot.
type State struct {
	ExecutionID string
	DiagramID   string
	Status      RunStatus
	RunError    string

	NodeStates map[string]*NodeState
	Variables  map[string]any
	TokenUsage core.TokenUsage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransitionError is returned when a node status transition is illegal
// (no node may re-enter ready/running once completed/failed/skipped).
type TransitionError struct {
	NodeID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("state: node %q cannot transition %s -> %s", e.NodeID, e.From, e.To)
}

// Store holds execution state for one or more concurrent runs.
// Create, Complete, AddTokenUsage and the running/completed/failed status
// transitions emit an eventbus event for the affected execution; other
// mutations (outputs, exec counts, variables, pending/ready/skipped) do not.
type Store struct {
	mu    sync.RWMutex
	runs  map[string]*State
	order []string // insertion order, for ListRuns

	emit eventbus.Emitter
}

// New creates an empty store. emit may be nil, in which case mutations are
// silent (useful in unit tests that don't exercise the event bus).
func New(emit eventbus.Emitter) *Store {
	if emit == nil {
		emit = func(eventbus.Event) {}
	}
	return &Store{
		runs: make(map[string]*State),
		emit: emit,
	}
}

// Create initializes state for a new execution.
func (s *Store) Create(executionID, diagramID string, initialVariables map[string]any) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars := make(map[string]any, len(initialVariables))
	for k, v := range initialVariables {
		vars[k] = v
	}

	now := time.Now()
	st := &State{
		ExecutionID: executionID,
		DiagramID:   diagramID,
		Status:      RunRunning,
		NodeStates:  make(map[string]*NodeState),
		Variables:   vars,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.runs[executionID] = st
	s.order = append(s.order, executionID)

	s.emit(eventbus.New(eventbus.KindExecutionStarted, executionID).
		WithPayload("diagram_id", diagramID))
	return st
}

// Get returns the state for an execution, or false if unknown.
func (s *Store) Get(executionID string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[executionID]
	return st, ok
}

func (s *Store) nodeState(st *State, nodeID string) *NodeState {
	ns, ok := st.NodeStates[nodeID]
	if !ok {
		ns = &NodeState{Status: StatusPending}
		st.NodeStates[nodeID] = ns
	}
	return ns
}

// SetNodeStatus transitions a node's status, enforcing the forward-only rule
// unless allowReset is set by an iterating handler resetting
// a completed node back to ready.
func (s *Store) SetNodeStatus(executionID, nodeID string, status Status, allowReset bool, nodeErr *core.NodeError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.runs[executionID]
	if !ok {
		return fmt.Errorf("state: unknown execution %q", executionID)
	}

	ns := s.nodeState(st, nodeID)
	from := ns.Status

	isIterationReset := allowReset && from == StatusCompleted && status == StatusReady
	if !isIterationReset && forwardRank[status] < forwardRank[from] {
		return &TransitionError{NodeID: nodeID, From: from, To: status}
	}

	ns.Status = status
	ns.Error = nodeErr
	st.UpdatedAt = time.Now()

	var kind eventbus.Kind
	switch status {
	case StatusRunning:
		kind = eventbus.KindNodeStarted
	case StatusCompleted:
		kind = eventbus.KindNodeCompleted
	case StatusFailed:
		kind = eventbus.KindNodeFailed
	default:
		// pending/ready/skipped are internal bookkeeping transitions; spec
		// §4.4 names no dedicated event kind for them.
		return nil
	}
	ev := eventbus.New(kind, executionID).WithNode(nodeID)
	if nodeErr != nil {
		ev = ev.WithPayload("error", nodeErr.Error())
	}
	s.emit(ev)
	return nil
}

// SetNodeOutput records a node's produced envelope.
func (s *Store) SetNodeOutput(executionID, nodeID string, env *core.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.runs[executionID]
	if !ok {
		return fmt.Errorf("state: unknown execution %q", executionID)
	}
	ns := s.nodeState(st, nodeID)
	ns.Output = env
	st.UpdatedAt = time.Now()
	return nil
}

// NodeOutput returns a node's latest recorded envelope, if any.
func (s *Store) NodeOutput(executionID, nodeID string) (*core.Envelope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[executionID]
	if !ok {
		return nil, false
	}
	ns, ok := st.NodeStates[nodeID]
	if !ok || ns.Output == nil {
		return nil, false
	}
	return ns.Output, true
}

// IncrementExecCount increments and returns a node's activation counter
//.
func (s *Store) IncrementExecCount(executionID, nodeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.runs[executionID]
	if !ok {
		return 0, fmt.Errorf("state: unknown execution %q", executionID)
	}
	ns := s.nodeState(st, nodeID)
	ns.ExecCount++
	st.UpdatedAt = time.Now()
	return ns.ExecCount, nil
}

// ExecCount returns a node's current activation counter.
func (s *Store) ExecCount(executionID, nodeID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[executionID]
	if !ok {
		return 0
	}
	ns, ok := st.NodeStates[nodeID]
	if !ok {
		return 0
	}
	return ns.ExecCount
}

// AddTokenUsage records a node's token usage and adds it to the run-level
// total in the same call.
func (s *Store) AddTokenUsage(executionID, nodeID string, usage core.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.runs[executionID]
	if !ok {
		return fmt.Errorf("state: unknown execution %q", executionID)
	}
	ns := s.nodeState(st, nodeID)
	ns.Usage = ns.Usage.Add(usage)
	st.TokenUsage = st.TokenUsage.Add(usage)
	st.UpdatedAt = time.Now()

	s.emit(eventbus.New(eventbus.KindTokenUsage, executionID).WithNode(nodeID).
		WithPayload("input", usage.Input).
		WithPayload("output", usage.Output))
	return nil
}

// UpdateVariables merges a patch into the run's variable scope.
func (s *Store) UpdateVariables(executionID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.runs[executionID]
	if !ok {
		return fmt.Errorf("state: unknown execution %q", executionID)
	}
	for k, v := range patch {
		st.Variables[k] = v
	}
	st.UpdatedAt = time.Now()
	return nil
}

// Variables returns a read-only snapshot copy of the run's variables.
func (s *Store) Variables(executionID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[executionID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(st.Variables))
	for k, v := range st.Variables {
		out[k] = v
	}
	return out
}

// Complete transitions the run to a terminal RunStatus. Once aborted,
// further completion/failure calls for the same execution are no-ops.
func (s *Store) Complete(executionID string, status RunStatus, runErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.runs[executionID]
	if !ok {
		return fmt.Errorf("state: unknown execution %q", executionID)
	}
	if st.Status == RunAborted {
		return nil
	}

	st.Status = status
	st.RunError = runErr
	st.UpdatedAt = time.Now()

	var kind eventbus.Kind
	switch status {
	case RunCompleted:
		kind = eventbus.KindExecutionCompleted
	case RunFailed:
		kind = eventbus.KindExecutionFailed
	case RunAborted:
		kind = eventbus.KindExecutionAborted
	default:
		return fmt.Errorf("state: Complete called with non-terminal status %q", status)
	}
	ev := eventbus.New(kind, executionID)
	if runErr != "" {
		ev = ev.WithPayload("error", runErr)
	}
	s.emit(ev)
	return nil
}

// IsTerminal reports whether the run has reached a terminal status.
func (st *State) IsTerminal() bool {
	return st.Status == RunCompleted || st.Status == RunFailed || st.Status == RunAborted
}
