package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/diagram"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
	"github.com/sorryhyun/DiPeO-sub018/snapshotstore"
)

// fakeHandler lets each scenario plug in its own Execute without a full
// handlers package; the 14 concrete handler kinds are built separately.
type fakeHandler struct {
	kind             string
	requiredServices []string
	validate         func(props map[string]any) error
	execute          func(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error)
}

func (f *fakeHandler) Kind() string                 { return f.kind }
func (f *fakeHandler) RequiredServices() []string   { return f.requiredServices }
func (f *fakeHandler) ValidateProps(p map[string]any) error {
	if f.validate == nil {
		return nil
	}
	return f.validate(p)
}
func (f *fakeHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	return f.execute(ctx, actx, props, inputs, svc)
}

func passthroughHandler(kind string) *fakeHandler {
	return &fakeHandler{
		kind: kind,
		execute: func(_ context.Context, _ handlerregistry.ActivationContext, _ map[string]any, inputs map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			if in, ok := inputs["default"]; ok {
				return in.Clone(), nil
			}
			return core.NewTextEnvelope(""), nil
		},
	}
}

func newTestEngine(handlers ...*fakeHandler) *Engine {
	reg := handlerregistry.New()
	for _, h := range handlers {
		reg.Register(h)
	}
	return New(reg, services.NewRegistry(), nil)
}

func TestRun_LinearPipelineProducesEndpointOutput(t *testing.T) {
	d := diagram.New("linear")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["code"] = diagram.NodeDef{ID: "code", Kind: "code_job"}
	d.Nodes["end"] = diagram.NodeDef{ID: "end", Kind: "endpoint"}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "code", TargetHandle: "default"},
		{SourceNodeID: "code", SourceHandle: "default", TargetNodeID: "end", TargetHandle: "default"},
	}

	e := newTestEngine(
		&fakeHandler{kind: "start", execute: func(_ context.Context, _ handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			return core.NewTextEnvelope("seed"), nil
		}},
		passthroughHandler("code_job"),
		passthroughHandler("endpoint"),
	)

	execID, env, err := e.Run(context.Background(), d, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if execID == "" {
		t.Errorf("expected a generated execution ID")
	}
	list, ok := env.Body.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("endpoint output not merged into a single-item ordered list: %+v", env.Body)
	}
	if list[0] != "seed" {
		t.Errorf("endpoint output[0] = %q, want seed", list[0])
	}

	st, _ := e.State.Get(execID)
	if st.Status != "completed" {
		t.Errorf("run status = %v, want completed", st.Status)
	}
}

func TestRun_ConditionBranchOnlyActivatesChosenPath(t *testing.T) {
	d := diagram.New("branch")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["cond"] = diagram.NodeDef{ID: "cond", Kind: "condition"}
	d.Nodes["onTrue"] = diagram.NodeDef{ID: "onTrue", Kind: "code_job"}
	d.Nodes["onFalse"] = diagram.NodeDef{ID: "onFalse", Kind: "code_job"}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "cond", TargetHandle: "default"},
		{SourceNodeID: "cond", SourceHandle: "true", TargetNodeID: "onTrue", TargetHandle: "default"},
		{SourceNodeID: "cond", SourceHandle: "false", TargetNodeID: "onFalse", TargetHandle: "default"},
	}

	var trueRan, falseRan bool
	var mu sync.Mutex

	e := newTestEngine(
		passthroughHandler("start"),
		&fakeHandler{kind: "condition", execute: func(_ context.Context, _ handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			return core.NewTextEnvelope("").WithMeta("branch", "true"), nil
		}},
		&fakeHandler{kind: "code_job", execute: func(_ context.Context, actx handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			mu.Lock()
			defer mu.Unlock()
			if actx.NodeID == "onTrue" {
				trueRan = true
			} else {
				falseRan = true
			}
			return core.NewTextEnvelope(actx.NodeID), nil
		}},
	)

	if _, _, err := e.Run(context.Background(), d, RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !trueRan {
		t.Errorf("expected the true branch to activate")
	}
	if falseRan {
		t.Errorf("expected the false branch to stay skipped")
	}
}

func TestRun_PersonJobIteratesThenStops(t *testing.T) {
	d := diagram.New("loop")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["pj"] = diagram.NodeDef{ID: "pj", Kind: "person_job", Props: map[string]any{"max_iteration": 3}}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "pj", TargetHandle: "first"},
		{SourceNodeID: "pj", SourceHandle: "default", TargetNodeID: "pj", TargetHandle: "default"},
	}

	calls := 0
	var mu sync.Mutex
	maxIteration := 3

	e := newTestEngine(
		passthroughHandler("start"),
		&fakeHandler{kind: "person_job", execute: func(_ context.Context, actx handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			env := core.NewTextEnvelope("turn")
			if actx.ExecCount+1 < maxIteration {
				env.WithMeta("iterate", true)
			}
			return env, nil
		}},
	)

	if _, _, err := e.Run(context.Background(), d, RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != maxIteration {
		t.Errorf("pj activated %d times, want %d", calls, maxIteration)
	}
}

func TestRun_RetriesTransientHandlerErrorThenSucceeds(t *testing.T) {
	d := diagram.New("retry")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["flaky"] = diagram.NodeDef{ID: "flaky", Kind: "api_job"}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "flaky", TargetHandle: "default"},
	}

	var attempts int
	var mu sync.Mutex

	e := newTestEngine(
		passthroughHandler("start"),
		&fakeHandler{kind: "api_job", execute: func(_ context.Context, _ handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 2 {
				return nil, NewError(CodeExternalService, "timeout talking to provider", "flaky", nil)
			}
			return core.NewTextEnvelope("ok"), nil
		}},
	)

	fast := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, Jitter: 0}
	execID, _, err := e.Run(context.Background(), d, RunOptions{RetryPolicy: &fast})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	st, _ := e.State.Get(execID)
	if st.Status != "completed" {
		t.Errorf("run status = %v, want completed", st.Status)
	}
}

func TestRun_NonRetryableFailureFailsRun(t *testing.T) {
	d := diagram.New("fail")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["bad"] = diagram.NodeDef{ID: "bad", Kind: "code_job"}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "bad", TargetHandle: "default"},
	}

	e := newTestEngine(
		passthroughHandler("start"),
		&fakeHandler{kind: "code_job", execute: func(_ context.Context, _ handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			return nil, NewError(CodeHandler, "bad script", "bad", nil)
		}},
	)

	execID, _, err := e.Run(context.Background(), d, RunOptions{})
	if err == nil {
		t.Fatalf("expected Run to return an error")
	}
	st, _ := e.State.Get(execID)
	if st.Status != "failed" {
		t.Errorf("run status = %v, want failed", st.Status)
	}
}

func TestRun_ContinueOnErrorNodeDoesNotFailRun(t *testing.T) {
	d := diagram.New("soft-fail")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["bad"] = diagram.NodeDef{ID: "bad", Kind: "code_job", Props: map[string]any{"continue_on_error": true}}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "bad", TargetHandle: "default"},
	}

	e := newTestEngine(
		passthroughHandler("start"),
		&fakeHandler{kind: "code_job", execute: func(_ context.Context, _ handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			return nil, NewError(CodeHandler, "bad script", "bad", nil)
		}},
	)

	execID, _, err := e.Run(context.Background(), d, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st, _ := e.State.Get(execID)
	if st.Status != "completed" {
		t.Errorf("run status = %v, want completed (continue_on_error)", st.Status)
	}
}

func TestRun_MissingServiceFailsConfigurationBeforeExecute(t *testing.T) {
	d := diagram.New("cfg")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["llm"] = diagram.NodeDef{ID: "llm", Kind: "person_job"}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "llm", TargetHandle: "first"},
	}

	executed := false
	e := newTestEngine(
		passthroughHandler("start"),
		&fakeHandler{kind: "person_job", requiredServices: []string{"llm"}, execute: func(_ context.Context, _ handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			executed = true
			return core.NewTextEnvelope("never"), nil
		}},
	)

	_, _, err := e.Run(context.Background(), d, RunOptions{})
	if err == nil {
		t.Fatalf("expected failure from missing required service")
	}
	if executed {
		t.Errorf("handler should never run when a required service is missing")
	}
}

func TestRun_CancellationAbortsRun(t *testing.T) {
	d := diagram.New("cancel")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["slow"] = diagram.NodeDef{ID: "slow", Kind: "code_job"}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "slow", TargetHandle: "default"},
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := newTestEngine(
		passthroughHandler("start"),
		&fakeHandler{kind: "code_job", execute: func(ctx context.Context, _ handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	)

	execID, _, err := e.Run(ctx, d, RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	st, _ := e.State.Get(execID)
	if st.Status != "aborted" {
		t.Errorf("run status = %v, want aborted", st.Status)
	}
}

func TestRun_FlushesSnapshotOnCompletion(t *testing.T) {
	d := diagram.New("snap")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["end"] = diagram.NodeDef{ID: "end", Kind: "endpoint"}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "end", TargetHandle: "default"},
	}

	e := newTestEngine(
		&fakeHandler{kind: "start", execute: func(_ context.Context, _ handlerregistry.ActivationContext, _ map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
			return core.NewTextEnvelope("seed"), nil
		}},
		passthroughHandler("endpoint"),
	)

	store, err := snapshotstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("snapshotstore.New: %v", err)
	}
	e.Snapshots = store

	execID, _, err := e.Run(context.Background(), d, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !store.Exists(execID) {
		t.Fatalf("expected a snapshot to be flushed for execution %s", execID)
	}
	snap, err := store.Load(execID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Status != "completed" {
		t.Errorf("snapshot status = %q, want completed", snap.Status)
	}
	if snap.ExecutionID != execID {
		t.Errorf("snapshot execution ID = %q, want %q", snap.ExecutionID, execID)
	}
}

func TestRun_NoSnapshotsStoreIsNoop(t *testing.T) {
	d := diagram.New("nosnap")
	d.Nodes["start"] = diagram.NodeDef{ID: "start", Kind: "start"}
	d.Nodes["end"] = diagram.NodeDef{ID: "end", Kind: "endpoint"}
	d.Arrows = []diagram.ArrowDef{
		{SourceNodeID: "start", SourceHandle: "default", TargetNodeID: "end", TargetHandle: "default"},
	}

	e := newTestEngine(passthroughHandler("start"), passthroughHandler("endpoint"))

	// e.Snapshots is left nil; Run must not panic or error because of it.
	if _, _, err := e.Run(context.Background(), d, RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
