package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// CodeJobHandler runs an arithmetic/variable-substitution expression against
// the node's inputs and run variables, e.g. an "expression" prop "x * 2".
type CodeJobHandler struct{}

func NewCodeJobHandler() *CodeJobHandler { return &CodeJobHandler{} }

func (*CodeJobHandler) Kind() string               { return "code_job" }
func (*CodeJobHandler) RequiredServices() []string { return nil }

func (*CodeJobHandler) ValidateProps(props map[string]any) error {
	_, err := requireStringProp(props, "expression", "code_job")
	return err
}

func (*CodeJobHandler) Execute(_ context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
	expr := stringProp(props, "expression")
	bindings := envelopeBodies(inputs)
	for k, v := range actx.Variables() {
		if _, exists := bindings[k]; !exists {
			bindings[k] = v
		}
	}

	result, err := evalArith(expr, bindings)
	if err != nil {
		return nil, fmt.Errorf("code_job %s: %w", actx.NodeID, err)
	}
	return core.NewObjectEnvelope(result), nil
}

var _ handlerregistry.Handler = (*CodeJobHandler)(nil)
