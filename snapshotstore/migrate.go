package snapshotstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sorryhyun/DiPeO-sub018/core"
)

// snapshotV1 is the schema version 1 format, predating per-node iteration
// tracking: it lacks IterationDone entirely. Kept so Migrate can decode old
// snapshots written before that field existed.
type snapshotV1 struct {
	SchemaVersion int                     `json:"schema_version"`
	ExecutionID   string                  `json:"execution_id"`
	DiagramID     string                  `json:"diagram_id"`
	Status        string                  `json:"status"`
	RunError      string                  `json:"run_error"`
	NodeStates    map[string]NodeSnapshot `json:"node_states"`
	Variables     map[string]any          `json:"variables"`
	TokenUsage    struct {
		Input  int `json:"Input"`
		Output int `json:"Output"`
		Cached int `json:"Cached"`
		Total  int `json:"Total"`
	} `json:"token_usage"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Migrate upgrades a raw snapshot payload of the given version to the
// current schema, decoding directly into the current shape when already
// current. Unknown future versions are rejected rather than guessed at.
func Migrate(data []byte, fromVersion int) (Snapshot, error) {
	switch fromVersion {
	case CurrentSchemaVersion:
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode v%d snapshot: %w", fromVersion, err)
		}
		return snap, nil

	case 1:
		var v1 snapshotV1
		if err := json.Unmarshal(data, &v1); err != nil {
			return Snapshot{}, fmt.Errorf("decode v1 snapshot: %w", err)
		}
		return migrateV1ToV2(v1), nil

	case 0:
		return Snapshot{}, fmt.Errorf("snapshot has no schema_version; cannot migrate")

	default:
		return Snapshot{}, fmt.Errorf("unsupported snapshot schema version %d (newer than %d)", fromVersion, CurrentSchemaVersion)
	}
}

// migrateV1ToV2 adds the IterationDone field, defaulting every node to "not
// yet marked done" since v1 snapshots predate condition-driven early loop
// termination tracking.
func migrateV1ToV2(v1 snapshotV1) Snapshot {
	createdAt, _ := time.Parse(time.RFC3339Nano, v1.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, v1.UpdatedAt)
	return Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		ExecutionID:   v1.ExecutionID,
		DiagramID:     v1.DiagramID,
		Status:        v1.Status,
		RunError:      v1.RunError,
		NodeStates:    v1.NodeStates,
		Variables:     v1.Variables,
		TokenUsage: core.TokenUsage{
			Input:  v1.TokenUsage.Input,
			Output: v1.TokenUsage.Output,
			Cached: v1.TokenUsage.Cached,
			Total:  v1.TokenUsage.Total,
		},
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		IterationDone: make(map[string]bool),
	}
}
