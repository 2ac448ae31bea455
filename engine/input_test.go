package engine

import (
	"testing"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/diagram"
	"github.com/sorryhyun/DiPeO-sub018/planner"
	"github.com/sorryhyun/DiPeO-sub018/state"
)

func setupStoreWithOutputs(t *testing.T, execID string, outputs map[string]*core.Envelope) *state.Store {
	t.Helper()
	st := state.New(nil)
	st.Create(execID, "d1", nil)
	for nodeID, env := range outputs {
		if err := st.SetNodeOutput(execID, nodeID, env); err != nil {
			t.Fatalf("SetNodeOutput(%s): %v", nodeID, err)
		}
	}
	return st
}

func TestResolveInputs_SingleEdgePassesThrough(t *testing.T) {
	const execID = "e1"
	st := setupStoreWithOutputs(t, execID, map[string]*core.Envelope{
		"a": core.NewTextEnvelope("hello"),
	})
	plan := &planner.Plan{
		Incoming: map[string][]planner.Edge{
			"b": {{ArrowDef: diagram.ArrowDef{SourceNodeID: "a", TargetHandle: "default"}}},
		},
	}

	inputs, err := resolveInputs(st, execID, plan, "b", planner.NodePolicy{})
	if err != nil {
		t.Fatalf("resolveInputs: %v", err)
	}
	text, ok := inputs["default"].AsText()
	if !ok || text != "hello" {
		t.Errorf("inputs[default] = %v, want hello", inputs["default"])
	}
}

func TestResolveInputs_MissingNonFeedbackSourceErrors(t *testing.T) {
	const execID = "e1"
	st := setupStoreWithOutputs(t, execID, nil)
	plan := &planner.Plan{
		Incoming: map[string][]planner.Edge{
			"b": {{ArrowDef: diagram.ArrowDef{SourceNodeID: "a", TargetHandle: "default"}}},
		},
	}

	if _, err := resolveInputs(st, execID, plan, "b", planner.NodePolicy{}); err == nil {
		t.Fatalf("expected error for missing non-feedback source output")
	}
}

func TestResolveInputs_MissingFeedbackSourceSkipped(t *testing.T) {
	const execID = "e1"
	st := setupStoreWithOutputs(t, execID, nil)
	plan := &planner.Plan{
		Incoming: map[string][]planner.Edge{
			"b": {{ArrowDef: diagram.ArrowDef{SourceNodeID: "a", TargetHandle: "default"}, Feedback: true}},
		},
	}

	inputs, err := resolveInputs(st, execID, plan, "b", planner.NodePolicy{})
	if err != nil {
		t.Fatalf("resolveInputs: %v", err)
	}
	if len(inputs) != 0 {
		t.Errorf("expected no inputs on unfired feedback edge, got %v", inputs)
	}
}

func TestResolveInputs_SinkMergesAllIntoOrderedList(t *testing.T) {
	const execID = "e1"
	st := setupStoreWithOutputs(t, execID, map[string]*core.Envelope{
		"a": core.NewTextEnvelope("first"),
		"b": core.NewTextEnvelope("second"),
	})
	plan := &planner.Plan{
		Incoming: map[string][]planner.Edge{
			"sink": {
				{ArrowDef: diagram.ArrowDef{SourceNodeID: "a", TargetHandle: "default"}},
				{ArrowDef: diagram.ArrowDef{SourceNodeID: "b", TargetHandle: "default"}},
			},
		},
	}

	inputs, err := resolveInputs(st, execID, plan, "sink", planner.NodePolicy{IsSink: true})
	if err != nil {
		t.Fatalf("resolveInputs: %v", err)
	}
	list, ok := inputs["default"].Body.([]any)
	if !ok || len(list) != 2 || list[0] != "first" || list[1] != "second" {
		t.Errorf("merged list = %v, want [first second]", inputs["default"].Body)
	}
}

func TestResolveInputs_PersonJobDefaultConcatenatesInOrder(t *testing.T) {
	const execID = "e1"
	st := setupStoreWithOutputs(t, execID, map[string]*core.Envelope{
		"a": core.NewTextEnvelope("x"),
		"b": core.NewTextEnvelope("y"),
	})
	plan := &planner.Plan{
		Incoming: map[string][]planner.Edge{
			"pj": {
				{ArrowDef: diagram.ArrowDef{SourceNodeID: "a", TargetHandle: "default"}},
				{ArrowDef: diagram.ArrowDef{SourceNodeID: "b", TargetHandle: "default"}},
			},
		},
	}

	inputs, err := resolveInputs(st, execID, plan, "pj", planner.NodePolicy{SupportsPartialInputs: true})
	if err != nil {
		t.Fatalf("resolveInputs: %v", err)
	}
	list, ok := inputs["default"].Body.([]any)
	if !ok || len(list) != 2 || list[0] != "x" || list[1] != "y" {
		t.Errorf("merged default = %v, want [x y]", inputs["default"].Body)
	}
}

func TestMergeHandle_LastWriterWinsWarnsOnAmbiguousJoin(t *testing.T) {
	envs := []*core.Envelope{core.NewTextEnvelope("old"), core.NewTextEnvelope("new")}
	out := mergeHandle("custom", envs, planner.NodePolicy{})
	text, _ := out.AsText()
	if text != "new" {
		t.Errorf("merged = %q, want last writer %q", text, "new")
	}
	if _, ok := out.Meta("merge_warning"); !ok {
		t.Errorf("expected merge_warning metadata on ambiguous join")
	}
}

func TestResolveInputs_AppliesTransformRules(t *testing.T) {
	const execID = "e1"
	st := setupStoreWithOutputs(t, execID, map[string]*core.Envelope{
		"a": core.NewObjectEnvelope(map[string]any{"name": "ada"}),
	})
	plan := &planner.Plan{
		Incoming: map[string][]planner.Edge{
			"b": {{ArrowDef: diagram.ArrowDef{
				SourceNodeID: "a", TargetHandle: "default",
				TransformRules: []diagram.TransformDef{{Kind: "extract", Args: map[string]any{"field": "name"}}},
			}}},
		},
	}

	inputs, err := resolveInputs(st, execID, plan, "b", planner.NodePolicy{})
	if err != nil {
		t.Fatalf("resolveInputs: %v", err)
	}
	text, ok := inputs["default"].AsText()
	if !ok || text != "ada" {
		t.Errorf("inputs[default] = %v, want ada", inputs["default"].Body)
	}
}
