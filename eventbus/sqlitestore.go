package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	node_id      TEXT    NOT NULL,
	time         TEXT    NOT NULL,
	payload      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_execution_seq ON events (execution_id, seq);
`

// Store persists events for later replay by a transport that reconnects
// mid-run or after completion.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, executionID string, afterSeq uint64, limit int) ([]Event, error)
	LatestSeq(ctx context.Context, executionID string) (uint64, error)
}

// SQLiteStore persists events to a SQLite database opened with the pure-Go
// modernc.org/sqlite driver in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed event store at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventbus: open sqlite store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventbus: enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventbus: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append stores an event.
func (s *SQLiteStore) Append(ctx context.Context, event Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (execution_id, seq, kind, node_id, time, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID,
		event.Seq,
		string(event.Kind),
		event.NodeID,
		event.Timestamp.Format(time.RFC3339Nano),
		string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("eventbus: append: %w", err)
	}
	return nil
}

// List returns events for an execution, ordered by Seq ascending, with
// Seq > afterSeq (0 means all) and up to limit rows (0 means no limit).
func (s *SQLiteStore) List(ctx context.Context, executionID string, afterSeq uint64, limit int) ([]Event, error) {
	query := `SELECT execution_id, seq, kind, node_id, time, payload FROM events
	          WHERE execution_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{executionID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: list: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e           Event
			kind        string
			timeStr     string
			payloadJSON string
		)
		if err := rows.Scan(&e.ExecutionID, &e.Seq, &kind, &e.NodeID, &timeStr, &payloadJSON); err != nil {
			return nil, fmt.Errorf("eventbus: scan: %w", err)
		}
		e.Kind = Kind(kind)
		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return nil, fmt.Errorf("eventbus: parse time %q: %w", timeStr, err)
		}
		e.Timestamp = t
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("eventbus: unmarshal payload: %w", err)
			}
		} else {
			e.Payload = map[string]any{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSeq returns the highest Seq recorded for an execution (0 if none).
func (s *SQLiteStore) LatestSeq(ctx context.Context, executionID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE execution_id = ?`, executionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("eventbus: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
