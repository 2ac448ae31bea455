package eventbus

import (
	"context"
	"fmt"
	"testing"
)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(testDSN(t))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_AppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		e := New(KindNodeStarted, "exec-1")
		e.Seq = i
		e.NodeID = fmt.Sprintf("node-%d", i)
		e.Payload = map[string]any{"attempt": float64(i)}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	events, err := store.List(ctx, "exec-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Errorf("events[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestSQLiteStore_ListAfterSeqFiltersAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		e := New(KindNodeCompleted, "exec-1")
		e.Seq = i
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	events, err := store.List(ctx, "exec-1", 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].Seq != 3 {
		t.Errorf("events[0].Seq = %d, want 3", events[0].Seq)
	}
}

func TestSQLiteStore_LatestSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if seq, err := store.LatestSeq(ctx, "exec-none"); err != nil || seq != 0 {
		t.Fatalf("LatestSeq empty = (%d, %v), want (0, nil)", seq, err)
	}

	for i := uint64(1); i <= 4; i++ {
		e := New(KindTokenUsage, "exec-1")
		e.Seq = i
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	seq, err := store.LatestSeq(ctx, "exec-1")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if seq != 4 {
		t.Errorf("LatestSeq = %d, want 4", seq)
	}
}

func TestSQLiteStore_PayloadRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := New(KindInteractivePromptRequired, "exec-1")
	e.Seq = 1
	e.NodeID = "n1"
	e.Payload = map[string]any{"prompt": "continue?", "count": float64(3)}
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := store.List(ctx, "exec-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	got := events[0]
	if got.Payload["prompt"] != "continue?" || got.Payload["count"] != float64(3) {
		t.Errorf("Payload round-trip mismatch: %+v", got.Payload)
	}
}

var _ Store = (*SQLiteStore)(nil)
