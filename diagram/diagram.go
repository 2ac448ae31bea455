// Package diagram defines the Compiled Diagram data model: the
// immutable, already-validated graph of nodes, arrows, handles, persons and
// API-key references that the engine executes. Diagram authoring and file
// parsing live outside this module's scope; this package only represents the
// compiled result and the structural checks that don't require live handler
// metadata.
package diagram

import "fmt"

// Direction identifies whether a handle is an inbound or outbound port.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Handle is a named port on a node. Arrows connect an output handle of one
// node to an input handle of another.
type Handle struct {
	NodeID    string    `json:"node_id"`
	Label     string    `json:"label"`
	Direction Direction `json:"direction"`
}

// String renders a handle as "NodeID:label:direction" for diagnostics.
func (h Handle) String() string {
	return fmt.Sprintf("%s:%s:%s", h.NodeID, h.Label, h.Direction)
}

// NodeDef is a node within a compiled diagram: a kind, validated props, and
// presentation metadata carried through for transports/UIs.
type NodeDef struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Props    map[string]any `json:"props"`
	Position *Position      `json:"position,omitempty"`
	Label    string         `json:"label,omitempty"`
}

// Position is presentation-only; the engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ArrowDef is a directed edge carrying envelopes between two handles.
type ArrowDef struct {
	SourceNodeID   string         `json:"source_node_id"`
	SourceHandle   string         `json:"source_handle"`
	TargetNodeID   string         `json:"target_node_id"`
	TargetHandle   string         `json:"target_handle"`
	TransformRules []TransformDef `json:"transform_rules,omitempty"`
	ContentType    string         `json:"content_type,omitempty"`
	Label          string         `json:"label,omitempty"`
}

// TransformDef is a serialized transform rule; the transform
// package interprets Kind/Args.
type TransformDef struct {
	Kind string         `json:"kind"`
	Args map[string]any `json:"args,omitempty"`
}

// PersonDef is an LLM actor configuration referenced by PersonJob nodes.
type PersonDef struct {
	ID           string `json:"id"`
	Service      string `json:"service"`
	Model        string `json:"model"`
	APIKeyRef    string `json:"api_key_ref,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// APIKeyDef is an opaque credential reference; the value itself is resolved
// at use time through the api_keys service port.
type APIKeyDef struct {
	ID  string `json:"id"`
	Ref string `json:"ref"`
}

// Metadata is free-form diagram provenance information.
type Metadata struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	SourcePath  string `json:"source_path,omitempty"`
	FormatHint  string `json:"format_hint,omitempty"`
}

// FormatVersion is the current stable serialization version for
// CompiledDiagram.
const FormatVersion = "1"

// CompiledDiagram is the immutable unit of work the engine executes.
// It is produced by an external compiler/parser (out of scope here) and
// consumed as-is: the engine never authors or mutates a CompiledDiagram.
type CompiledDiagram struct {
	FormatVersion string               `json:"format_version"`
	ID            string               `json:"id"`
	Nodes         map[string]NodeDef   `json:"nodes"`
	Arrows        []ArrowDef           `json:"arrows"`
	Handles       []Handle             `json:"handles"`
	Persons       map[string]PersonDef `json:"persons"`
	APIKeys       map[string]APIKeyDef `json:"api_keys"`
	Metadata      Metadata             `json:"metadata"`
}

// New creates an empty CompiledDiagram with initialized maps, stamped with
// the current FormatVersion.
func New(id string) *CompiledDiagram {
	return &CompiledDiagram{
		FormatVersion: FormatVersion,
		ID:            id,
		Nodes:         make(map[string]NodeDef),
		Persons:       make(map[string]PersonDef),
		APIKeys:       make(map[string]APIKeyDef),
	}
}

// Diagnostic is a structural validation error or warning.
type Diagnostic struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks structural integrity that doesn't require handler metadata:
//   - DG-001: every arrow endpoint references an existing handle
//   - DG-002: duplicate node IDs are impossible by construction (map), but
//     duplicate handles for the same (node, label, direction) are rejected
//   - DG-003: condition nodes expose both a "true" and a "false" outbound handle
//   - DG-004: person_job nodes expose a "first" and "default" inbound handle
//   - DG-005: exactly one outbound handle of each label per node
func (d *CompiledDiagram) Validate() []Diagnostic {
	var diags []Diagnostic

	handleSet := make(map[string]bool, len(d.Handles))
	outboundLabels := make(map[string]map[string]int) // nodeID -> label -> count
	for _, h := range d.Handles {
		key := h.NodeID + "\x00" + h.Label + "\x00" + string(h.Direction)
		if handleSet[key] {
			diags = append(diags, Diagnostic{
				Code:     "DG-002",
				Severity: SeverityError,
				Message:  fmt.Sprintf("duplicate handle %s", h),
			})
		}
		handleSet[key] = true
		if h.Direction == DirectionOutput {
			if outboundLabels[h.NodeID] == nil {
				outboundLabels[h.NodeID] = make(map[string]int)
			}
			outboundLabels[h.NodeID][h.Label]++
		}
	}

	for nodeID, labels := range outboundLabels {
		for label, count := range labels {
			if count > 1 {
				diags = append(diags, Diagnostic{
					Code:     "DG-005",
					Severity: SeverityError,
					Message:  fmt.Sprintf("node %q declares %d outbound handles labeled %q, expected exactly one", nodeID, count, label),
				})
			}
		}
	}

	for i, arrow := range d.Arrows {
		srcKey := arrow.SourceNodeID + "\x00" + arrow.SourceHandle + "\x00" + string(DirectionOutput)
		if !handleSet[srcKey] {
			diags = append(diags, Diagnostic{
				Code:     "DG-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("arrow %d: source handle %s:%s does not exist", i, arrow.SourceNodeID, arrow.SourceHandle),
				Path:     fmt.Sprintf("arrows[%d].source_handle", i),
			})
		}
		tgtKey := arrow.TargetNodeID + "\x00" + arrow.TargetHandle + "\x00" + string(DirectionInput)
		if !handleSet[tgtKey] {
			diags = append(diags, Diagnostic{
				Code:     "DG-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("arrow %d: target handle %s:%s does not exist", i, arrow.TargetNodeID, arrow.TargetHandle),
				Path:     fmt.Sprintf("arrows[%d].target_handle", i),
			})
		}
	}

	for nodeID, node := range d.Nodes {
		if node.Kind != "condition" {
			continue
		}
		hasTrue, hasFalse := false, false
		for _, h := range d.Handles {
			if h.NodeID != nodeID || h.Direction != DirectionOutput {
				continue
			}
			if h.Label == "true" {
				hasTrue = true
			}
			if h.Label == "false" {
				hasFalse = true
			}
		}
		if !hasTrue || !hasFalse {
			diags = append(diags, Diagnostic{
				Code:     "DG-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("condition node %q must expose both true and false outbound handles", nodeID),
			})
		}
	}

	for nodeID, node := range d.Nodes {
		if node.Kind != "person_job" {
			continue
		}
		hasFirst, hasDefault := false, false
		for _, h := range d.Handles {
			if h.NodeID != nodeID || h.Direction != DirectionInput {
				continue
			}
			if h.Label == "first" {
				hasFirst = true
			}
			if h.Label == "default" {
				hasDefault = true
			}
		}
		if !hasFirst || !hasDefault {
			diags = append(diags, Diagnostic{
				Code:     "DG-004",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("person_job node %q should expose both first and default inbound handles", nodeID),
			})
		}
	}

	return diags
}
