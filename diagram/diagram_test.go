package diagram

import "testing"

func TestValidate_MissingHandleReference(t *testing.T) {
	d := New("d1")
	d.Nodes["a"] = NodeDef{ID: "a", Kind: "start"}
	d.Nodes["b"] = NodeDef{ID: "b", Kind: "endpoint"}
	d.Handles = []Handle{
		{NodeID: "a", Label: "default", Direction: DirectionOutput},
	}
	d.Arrows = []ArrowDef{
		{SourceNodeID: "a", SourceHandle: "default", TargetNodeID: "b", TargetHandle: "default"},
	}

	diags := d.Validate()
	if !HasErrors(diags) {
		t.Fatalf("expected DG-001 error for missing target handle, got %v", diags)
	}
	found := false
	for _, diag := range diags {
		if diag.Code == "DG-001" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a DG-001 diagnostic, got %+v", diags)
	}
}

func TestValidate_ConditionNodeRequiresBothBranches(t *testing.T) {
	d := New("d1")
	d.Nodes["c"] = NodeDef{ID: "c", Kind: "condition"}
	d.Handles = []Handle{
		{NodeID: "c", Label: "true", Direction: DirectionOutput},
	}

	diags := d.Validate()
	if !HasErrors(diags) {
		t.Fatalf("expected DG-003 error for missing false handle")
	}
}

func TestValidate_DuplicateOutboundLabelRejected(t *testing.T) {
	d := New("d1")
	d.Nodes["a"] = NodeDef{ID: "a", Kind: "start"}
	d.Handles = []Handle{
		{NodeID: "a", Label: "default", Direction: DirectionOutput},
		{NodeID: "a", Label: "default", Direction: DirectionOutput},
	}

	diags := d.Validate()
	found := false
	for _, diag := range diags {
		if diag.Code == "DG-005" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected DG-005 diagnostic for duplicate outbound label, got %+v", diags)
	}
}

func TestValidate_CleanDiagramHasNoErrors(t *testing.T) {
	d := New("d1")
	d.Nodes["a"] = NodeDef{ID: "a", Kind: "start"}
	d.Nodes["b"] = NodeDef{ID: "b", Kind: "endpoint"}
	d.Handles = []Handle{
		{NodeID: "a", Label: "default", Direction: DirectionOutput},
		{NodeID: "b", Label: "default", Direction: DirectionInput},
	}
	d.Arrows = []ArrowDef{
		{SourceNodeID: "a", SourceHandle: "default", TargetNodeID: "b", TargetHandle: "default"},
	}

	diags := d.Validate()
	if HasErrors(diags) {
		t.Fatalf("expected no errors, got %+v", diags)
	}
}
