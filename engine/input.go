package engine

import (
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/planner"
	"github.com/sorryhyun/DiPeO-sub018/state"
	"github.com/sorryhyun/DiPeO-sub018/transform"
)

// resolveInputs builds the map[handle]*core.Envelope a handler receives for
// one activation: for every inbound edge, coerce the source's
// latest envelope to the edge's declared content type, run its transform
// chain, then merge envelopes landing on the same handle per the target's
// join policy.
func resolveInputs(st *state.Store, executionID string, plan *planner.Plan, nodeID string, policy planner.NodePolicy) (map[string]*core.Envelope, error) {
	byHandle := make(map[string][]planner.Edge)
	for _, e := range plan.Incoming[nodeID] {
		byHandle[e.TargetHandle] = append(byHandle[e.TargetHandle], e)
	}

	out := make(map[string]*core.Envelope, len(byHandle))
	for handle, edges := range byHandle {
		var collected []*core.Envelope
		for _, e := range edges {
			env, ok := st.NodeOutput(executionID, e.SourceNodeID)
			if !ok {
				if e.Feedback {
					continue // loop hasn't produced an envelope yet on its first pass
				}
				return nil, fmt.Errorf("node %q handle %q: source %q has no output", nodeID, handle, e.SourceNodeID)
			}

			if e.ContentType != "" {
				env = transform.Coerce(env, core.ContentType(e.ContentType))
			}
			rules, err := rulesFor(e)
			if err != nil {
				return nil, fmt.Errorf("node %q handle %q: %w", nodeID, handle, err)
			}
			env, err = transform.Chain(env, rules)
			if err != nil {
				return nil, fmt.Errorf("node %q handle %q: %w", nodeID, handle, err)
			}
			collected = append(collected, env)
		}
		if len(collected) == 0 {
			continue
		}
		out[handle] = mergeHandle(handle, collected, policy)
	}
	return out, nil
}

func rulesFor(e planner.Edge) ([]transform.Rule, error) {
	if len(e.TransformRules) == 0 {
		return nil, nil
	}
	rules := make([]transform.Rule, 0, len(e.TransformRules))
	for _, d := range e.TransformRules {
		r, err := transform.FromDef(d)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// mergeHandle implements the per-target join policy:
//   - sink nodes (Endpoint): every input collected into an ordered list,
//     regardless of count
//   - person_job "first": single-fire, first edge wins
//   - person_job "default": concatenated in declared edge order
//   - anything else: last writer wins, with a merge_warning metadata note
//     (defensive only; planner.rejectAmbiguousJoins should prevent this)
func mergeHandle(handle string, envs []*core.Envelope, policy planner.NodePolicy) *core.Envelope {
	if policy.IsSink {
		return mergeOrderedList(envs)
	}
	if len(envs) == 1 {
		return envs[0]
	}
	if handle == "first" {
		return envs[0]
	}
	if handle == "default" {
		return mergeOrderedList(envs)
	}
	last := envs[len(envs)-1].Clone()
	last.WithMeta("merge_warning", fmt.Sprintf("handle %q received %d inputs; last writer wins", handle, len(envs)))
	return last
}

func mergeOrderedList(envs []*core.Envelope) *core.Envelope {
	bodies := make([]any, len(envs))
	var executed []string
	for i, e := range envs {
		bodies[i] = e.Body
		executed = append(executed, e.ExecutedNodes...)
	}
	out := core.NewObjectEnvelope(bodies)
	out.ExecutedNodes = executed
	return out
}
