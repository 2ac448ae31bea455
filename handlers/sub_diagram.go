package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/engine"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// SubDiagramHandler resolves and runs a nested diagram as a child execution:
// it loads the child via the sub_diagram service, runs it to completion with
// inputs seeded as the child's variable scope, and returns the child's
// chosen endpoint envelope. A failed child fails this node.
type SubDiagramHandler struct{}

func NewSubDiagramHandler() *SubDiagramHandler { return &SubDiagramHandler{} }

func (*SubDiagramHandler) Kind() string               { return "sub_diagram" }
func (*SubDiagramHandler) RequiredServices() []string { return []string{"sub_diagram"} }

func (*SubDiagramHandler) ValidateProps(props map[string]any) error {
	_, err := requireStringProp(props, "diagram", "sub_diagram")
	return err
}

func (*SubDiagramHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	sd, ok := svc.SubDiagram()
	if !ok {
		return nil, &services.ConfigurationError{Service: "sub_diagram", NodeID: actx.NodeID}
	}

	name := stringProp(props, "diagram")
	format := stringProp(props, "format")
	if format == "" {
		format = "native"
	}

	compiled, err := sd.Load(ctx, name, format)
	if err != nil {
		return nil, fmt.Errorf("sub_diagram %s: load %q: %w", actx.NodeID, name, err)
	}

	childInputs := envelopeBodies(inputs)
	result, err := sd.Run(ctx, compiled, childInputs)
	if err != nil {
		return nil, engine.NewError(engine.CodeHandler, "child run failed", actx.NodeID, err)
	}
	if result.Status == "failed" {
		return nil, engine.NewError(engine.CodeHandler, result.Error, actx.NodeID, nil)
	}

	env := core.NewObjectEnvelope(result.EndpointBody)
	env.WithMeta("token_usage", core.TokenUsage{Input: result.TokenUsage.Input, Output: result.TokenUsage.Output, Cached: result.TokenUsage.Cached, Total: result.TokenUsage.Input + result.TokenUsage.Output})
	return env, nil
}

var _ handlerregistry.Handler = (*SubDiagramHandler)(nil)
