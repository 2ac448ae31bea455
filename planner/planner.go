// Package planner implements the Dependency Resolver & Planner.
// Given a compiled diagram, it produces the edge index, the start set, a
// feedback-edge classification, and per-node compile-time policy that the
// scheduler (engine package) consumes to drive execution.
package planner

import (
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/diagram"
)

// NodePolicy captures the per-node compile-time facts the scheduler needs.
type NodePolicy struct {
	// IsChoice is true for nodes (condition) that activate exactly one
	// outbound branch rather than all of them.
	IsChoice bool

	// IsIterating is true for PersonJob nodes configured with max_iteration > 1.
	IsIterating bool

	// IsSink is true for nodes (Endpoint) that may collect multiple inputs
	// and don't gate readiness on every inbound edge firing in the same cycle.
	IsSink bool

	// SupportsPartialInputs is true for handlers that may activate without
	// every non-feedback inbound edge having fired (Endpoint always; PersonJob
	// from its second iteration onward, fed only by feedback edges).
	SupportsPartialInputs bool
}

// Edge is a planner-resolved arrow annotated with its feedback classification.
type Edge struct {
	diagram.ArrowDef
	Feedback bool
}

// Plan is the resolved planning output for a compiled diagram.
type Plan struct {
	Diagram *diagram.CompiledDiagram

	// Outgoing/Incoming index edges per node, in declared order.
	Outgoing map[string][]Edge
	Incoming map[string][]Edge

	// StartSet holds the node IDs with kind "start" (or, for sub-diagrams,
	// roots with no incoming non-feedback edges).
	StartSet []string

	// Policies maps node ID to its compile-time policy.
	Policies map[string]NodePolicy
}

// Classifier supplies the kind checks Resolve uses to build a Plan. Node
// kinds are classified only through these callbacks so the planner package
// has no dependency on the handler registry package (avoids an import cycle).
type Classifier struct {
	// IsChoiceKind reports whether a node kind is a branching/choice kind
	// (e.g. "condition").
	IsChoiceKind func(kind string) bool

	// IsIteratingNode reports whether a specific node (given its props) is
	// configured to iterate more than once (e.g. PersonJob max_iteration > 1).
	IsIteratingNode func(n diagram.NodeDef) bool

	// IsSinkKind reports whether a node kind is a sink that accepts partial /
	// merged multi-input joins (e.g. "endpoint").
	IsSinkKind func(kind string) bool
}

// DefaultClassifier recognizes the core node kinds without requiring a live
// handler registry.
func DefaultClassifier() Classifier {
	return Classifier{
		IsChoiceKind: func(kind string) bool { return kind == "condition" },
		IsIteratingNode: func(n diagram.NodeDef) bool {
			if n.Kind != "person_job" {
				return false
			}
			maxIter, ok := n.Props["max_iteration"]
			if !ok {
				return false
			}
			switch v := maxIter.(type) {
			case int:
				return v > 1
			case float64:
				return v > 1
			}
			return false
		},
		IsSinkKind: func(kind string) bool { return kind == "endpoint" },
	}
}

// Resolve produces a Plan for the given compiled diagram.
func Resolve(d *diagram.CompiledDiagram, classify Classifier) (*Plan, error) {
	if d == nil {
		return nil, fmt.Errorf("planner: nil diagram")
	}

	p := &Plan{
		Diagram:  d,
		Outgoing: make(map[string][]Edge, len(d.Nodes)),
		Incoming: make(map[string][]Edge, len(d.Nodes)),
		Policies: make(map[string]NodePolicy, len(d.Nodes)),
	}

	for i, arrow := range d.Arrows {
		// An edge closes a cycle ("feedback") iff its target can already
		// reach its source using the OTHER arrows — i.e. this edge would
		// complete a loop back to where execution already passed through.
		feedback := canReachWithoutEdge(d, arrow.TargetNodeID, arrow.SourceNodeID, i)
		e := Edge{ArrowDef: arrow, Feedback: feedback}
		p.Outgoing[arrow.SourceNodeID] = append(p.Outgoing[arrow.SourceNodeID], e)
		p.Incoming[arrow.TargetNodeID] = append(p.Incoming[arrow.TargetNodeID], e)
	}

	hasNonFeedbackInbound := make(map[string]bool)
	for nodeID, edges := range p.Incoming {
		for _, e := range edges {
			if !e.Feedback {
				hasNonFeedbackInbound[nodeID] = true
			}
		}
	}

	for nodeID, node := range d.Nodes {
		if node.Kind == "start" {
			p.StartSet = append(p.StartSet, nodeID)
			continue
		}
		if !hasNonFeedbackInbound[nodeID] {
			// Root with no incoming non-feedback edges: treated as a start
			// node for sub-diagrams or disconnected fragments.
			p.StartSet = append(p.StartSet, nodeID)
		}
	}

	for nodeID, node := range d.Nodes {
		policy := NodePolicy{}
		if classify.IsChoiceKind != nil && classify.IsChoiceKind(node.Kind) {
			policy.IsChoice = true
		}
		if classify.IsIteratingNode != nil && classify.IsIteratingNode(node) {
			policy.IsIterating = true
		}
		if classify.IsSinkKind != nil && classify.IsSinkKind(node.Kind) {
			policy.IsSink = true
			policy.SupportsPartialInputs = true
		}
		if node.Kind == "person_job" {
			// PersonJob accepts partial (feedback-only) inputs from its
			// second iteration onward.
			policy.SupportsPartialInputs = true
		}
		p.Policies[nodeID] = policy
	}

	if err := p.rejectAmbiguousJoins(); err != nil {
		return nil, err
	}

	return p, nil
}

// rejectAmbiguousJoins rejects multi-input joins unless the target kind
// explicitly supports them.
func (p *Plan) rejectAmbiguousJoins() error {
	for nodeID, edges := range p.Incoming {
		byLabel := make(map[string]int)
		for _, e := range edges {
			if e.Feedback {
				continue
			}
			byLabel[e.TargetHandle]++
		}
		policy := p.Policies[nodeID]
		for label, count := range byLabel {
			if count <= 1 {
				continue
			}
			if policy.IsSink {
				continue // Endpoint: merged into an ordered list.
			}
			if policy.SupportsPartialInputs && label == "default" {
				continue // PersonJob default handle: concatenated in edge order.
			}
			if policy.SupportsPartialInputs && label == "first" {
				continue
			}
			return fmt.Errorf("planner: node %q has %d non-feedback edges into handle %q, which its kind does not support merging", nodeID, count, label)
		}
	}
	return nil
}

// canReachWithoutEdge reports whether `to` is reachable from `from` by
// following arrows forward, excluding the arrow at index skipIdx. Used to
// classify feedback (back-)edges without the candidate edge trivially
// satisfying its own reachability check.
func canReachWithoutEdge(d *diagram.CompiledDiagram, from, to string, skipIdx int) bool {
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == to {
			return true
		}
		for i, arrow := range d.Arrows {
			if i == skipIdx || arrow.SourceNodeID != cur {
				continue
			}
			if !visited[arrow.TargetNodeID] {
				stack = append(stack, arrow.TargetNodeID)
			}
		}
	}
	return visited[to]
}
