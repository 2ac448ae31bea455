package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sorryhyun/DiPeO-sub018/diagram"
	"github.com/sorryhyun/DiPeO-sub018/engine"
	"github.com/sorryhyun/DiPeO-sub018/eventbus"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// fileSubDiagram loads nested diagrams relative to baseDir and runs them
// through a fresh Engine sharing the parent process's handler and service
// registries, so a sub_diagram node sees the same handler set and ambient
// services as its parent.
type fileSubDiagram struct {
	baseDir  string
	handlers *handlerregistry.Registry
	svc      *services.Registry
	bus      eventbus.Bus
}

func newFileSubDiagram(baseDir string, handlers *handlerregistry.Registry, svc *services.Registry, bus eventbus.Bus) services.SubDiagramPort {
	return &fileSubDiagram{baseDir: baseDir, handlers: handlers, svc: svc, bus: bus}
}

func (f *fileSubDiagram) Load(_ context.Context, nameOrPath string, _ string) (services.SubDiagramHandle, error) {
	path := nameOrPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.baseDir, nameOrPath)
	}
	d, err := loadDiagram(path)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (f *fileSubDiagram) Run(ctx context.Context, handle services.SubDiagramHandle, inputs map[string]any) (services.SubDiagramResult, error) {
	d, ok := handle.(*diagram.CompiledDiagram)
	if !ok {
		return services.SubDiagramResult{}, fmt.Errorf("sub_diagram: invalid handle type %T", handle)
	}

	child := engine.New(f.handlers, f.svc, f.bus)
	execID, env, err := child.Run(ctx, d, engine.RunOptions{Variables: inputs})
	if err != nil {
		return services.SubDiagramResult{Status: "failed", Error: err.Error()}, nil
	}

	var body any
	var usage services.TokenUsage
	if env != nil {
		body = env.Body
	}
	if st, ok := child.State.Get(execID); ok {
		usage = services.TokenUsage{Input: st.TokenUsage.Input, Output: st.TokenUsage.Output, Cached: st.TokenUsage.Cached}
	}

	return services.SubDiagramResult{EndpointBody: body, TokenUsage: usage, Status: "completed"}, nil
}

var _ services.SubDiagramPort = (*fileSubDiagram)(nil)
