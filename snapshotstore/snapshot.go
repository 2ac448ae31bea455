// Package snapshotstore persists versioned execution-state snapshots (spec
// §4.3): "versioned snapshot format (schema version embedded). A migrator
// upgrades older snapshots on load. Final state is flushed atomically
// (write-temp + rename)."
package snapshotstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/state"
)

// CurrentSchemaVersion is the snapshot format version written by this build.
const CurrentSchemaVersion = 2

// Snapshot is the on-disk representation of a state.State. Field names are
// part of the versioned wire format and are not renamed across migrations;
// a new version adds fields and bumps SchemaVersion instead.
type Snapshot struct {
	SchemaVersion int `json:"schema_version"`

	ExecutionID string                  `json:"execution_id"`
	DiagramID   string                  `json:"diagram_id"`
	Status      string                  `json:"status"`
	RunError    string                  `json:"run_error"`
	NodeStates  map[string]NodeSnapshot `json:"node_states"`
	Variables   map[string]any          `json:"variables"`
	TokenUsage  core.TokenUsage         `json:"token_usage"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`

	// IterationDone was added in schema v2: per-node "loop marked done by
	// a downstream condition" flags, carried so a resumed run does not
	// re-iterate a PersonJob a downstream condition already closed out.
	IterationDone map[string]bool `json:"iteration_done,omitempty"`
}

// NodeSnapshot is the per-node portion of a Snapshot.
type NodeSnapshot struct {
	Status    string          `json:"status"`
	ExecCount int             `json:"exec_count"`
	Output    *core.Envelope  `json:"output,omitempty"`
	Usage     core.TokenUsage `json:"usage"`
}

// FromState converts a live state.State into the current snapshot format.
func FromState(st *state.State, iterationDone map[string]bool) Snapshot {
	ns := make(map[string]NodeSnapshot, len(st.NodeStates))
	for id, n := range st.NodeStates {
		ns[id] = NodeSnapshot{
			Status:    string(n.Status),
			ExecCount: n.ExecCount,
			Output:    n.Output,
			Usage:     n.Usage,
		}
	}
	return Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		ExecutionID:   st.ExecutionID,
		DiagramID:     st.DiagramID,
		Status:        string(st.Status),
		RunError:      st.RunError,
		NodeStates:    ns,
		Variables:     st.Variables,
		TokenUsage:    st.TokenUsage,
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
		IterationDone: iterationDone,
	}
}

// Store persists and loads versioned snapshots to a base directory, one file
// per execution ID, flushed atomically via write-temp + rename.
type Store struct {
	baseDir string
}

// New creates a snapshot store rooted at baseDir, creating it if absent.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshotstore: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) path(executionID string) string {
	return filepath.Join(s.baseDir, executionID+".snapshot.json")
}

// Save writes a snapshot atomically: marshal, write to a temp file in the
// same directory, then rename over the final path.
func (s *Store) Save(snap Snapshot) error {
	if snap.SchemaVersion == 0 {
		snap.SchemaVersion = CurrentSchemaVersion
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshotstore: marshal: %w", err)
	}

	final := s.path(snap.ExecutionID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshotstore: write temp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshotstore: rename: %w", err)
	}
	return nil
}

// Load reads a snapshot by execution ID, migrating it to the current schema
// version if it was written by an older build.
func (s *Store) Load(executionID string) (Snapshot, error) {
	data, err := os.ReadFile(s.path(executionID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshotstore: read: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("snapshotstore: unmarshal envelope: %w", err)
	}

	var version int
	if v, ok := raw["schema_version"]; ok {
		_ = json.Unmarshal(v, &version)
	}

	migrated, err := Migrate(data, version)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshotstore: migrate: %w", err)
	}
	return migrated, nil
}

// Exists reports whether a snapshot exists for an execution.
func (s *Store) Exists(executionID string) bool {
	_, err := os.Stat(s.path(executionID))
	return err == nil
}
