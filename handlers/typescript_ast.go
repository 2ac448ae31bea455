package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/engine"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// TypescriptASTHandler parses or transforms TypeScript source via the
// "typescript_ast" integration. Parsing a TS AST in pure Go has no grounded
// library anywhere in the dependency pack, so this delegates to an
// out-of-process integration the same way api_job delegates
// provider-specific verbs — the handler itself stays a thin dispatcher.
type TypescriptASTHandler struct{}

func NewTypescriptASTHandler() *TypescriptASTHandler { return &TypescriptASTHandler{} }

func (*TypescriptASTHandler) Kind() string               { return "typescript_ast" }
func (*TypescriptASTHandler) RequiredServices() []string { return nil }

func (*TypescriptASTHandler) ValidateProps(props map[string]any) error {
	_, err := requireStringProp(props, "action", "typescript_ast")
	return err
}

func (*TypescriptASTHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	integration, ok := svc.Integration("typescript_ast")
	if !ok {
		return nil, &services.ConfigurationError{Service: "typescript_ast", NodeID: actx.NodeID}
	}

	action := stringProp(props, "action")
	args := mergeArgs(mapProp(props, "args"), inputs)

	result, err := integration.Invoke(ctx, action, args)
	if err != nil {
		return nil, engine.NewError(engine.CodeExternalService, fmt.Sprintf("typescript_ast.%s failed", action), actx.NodeID, err)
	}
	return core.NewObjectEnvelope(result), nil
}

var _ handlerregistry.Handler = (*TypescriptASTHandler)(nil)
