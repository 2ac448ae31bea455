package engine

import (
	"sort"
	"sync"

	"github.com/sorryhyun/DiPeO-sub018/diagram"
	"github.com/sorryhyun/DiPeO-sub018/planner"
)

// tieBreak ranks ready nodes by (priority, topological_rank, node_id) for
// deterministic dispatch order.
type tieBreak struct {
	priority int
	topoRank int
	nodeID   string
}

func less(a, b tieBreak) bool {
	if a.priority != b.priority {
		return a.priority > b.priority // higher priority dispatches first
	}
	if a.topoRank != b.topoRank {
		return a.topoRank < b.topoRank
	}
	return a.nodeID < b.nodeID
}

// computeTopoRank assigns each node a rank via Kahn's algorithm over
// non-feedback edges only, so feedback (loop-closing) edges never introduce
// a cycle into the ranking. Nodes unreachable by the ranking (shouldn't
// happen in a validated diagram) get the next available rank in ID order.
func computeTopoRank(d *diagram.CompiledDiagram, plan *planner.Plan) map[string]int {
	indegree := make(map[string]int, len(d.Nodes))
	for id := range d.Nodes {
		indegree[id] = 0
	}
	for target, edges := range plan.Incoming {
		for _, e := range edges {
			if !e.Feedback {
				indegree[target]++
			}
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	rank := make(map[string]int, len(d.Nodes))
	next := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		if _, seen := rank[id]; seen {
			continue
		}
		rank[id] = next
		next++
		for _, e := range plan.Outgoing[id] {
			if e.Feedback {
				continue
			}
			indegree[e.TargetNodeID]--
			if indegree[e.TargetNodeID] == 0 {
				queue = append(queue, e.TargetNodeID)
			}
		}
	}
	var unranked []string
	for id := range d.Nodes {
		if _, ok := rank[id]; !ok {
			unranked = append(unranked, id)
		}
	}
	sort.Strings(unranked)
	for _, id := range unranked {
		rank[id] = next
		next++
	}
	return rank
}

func priorityOf(n diagram.NodeDef) int {
	if n.Props == nil {
		return 0
	}
	switch v := n.Props["priority"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// runState tracks the mutable, per-activation-cycle scheduling bookkeeping
// that lives alongside (but separate from) the authoritative state.Store:
// which nodes are ready to dispatch, which inbound edges have fired this
// cycle, and which nodes a condition has transitively skipped.
type runState struct {
	mu sync.Mutex

	ready   map[string]bool
	skipped map[string]bool

	// fired[target][sourceNodeID] marks that an edge from sourceNodeID into
	// target has produced an envelope during the current activation cycle.
	fired map[string]map[string]bool
}

func newRunState() *runState {
	return &runState{
		ready:   make(map[string]bool),
		skipped: make(map[string]bool),
		fired:   make(map[string]map[string]bool),
	}
}

func (rs *runState) markReady(nodeID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.skipped[nodeID] {
		return
	}
	rs.ready[nodeID] = true
}

func (rs *runState) markSkipped(nodeID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.ready, nodeID)
	rs.skipped[nodeID] = true
}

func (rs *runState) isSkipped(nodeID string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.skipped[nodeID]
}

func (rs *runState) markFired(target, source string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.fired[target] == nil {
		rs.fired[target] = make(map[string]bool)
	}
	rs.fired[target][source] = true
}

func (rs *runState) clearFired(nodeID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.fired, nodeID)
}

func (rs *runState) firedSources(nodeID string) map[string]bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.fired[nodeID]
}

// popBatch removes up to n ready nodes, returned in deterministic tie-break
// order. n < 0 means unbounded; n == 0 pops nothing.
func (rs *runState) popBatch(n int, priority, topoRank map[string]int) []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if n == 0 {
		return nil
	}

	ids := make([]string, 0, len(rs.ready))
	for id := range rs.ready {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a := tieBreak{priority[ids[i]], topoRank[ids[i]], ids[i]}
		b := tieBreak{priority[ids[j]], topoRank[ids[j]], ids[j]}
		return less(a, b)
	})

	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	for _, id := range ids {
		delete(rs.ready, id)
	}
	return ids
}

func (rs *runState) readyLen() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.ready)
}
