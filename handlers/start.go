package handlers

import (
	"context"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// StartHandler seeds a run: it has no inbound edges and emits the run's
// variables (or a configured literal) as its output envelope.
type StartHandler struct{}

func NewStartHandler() *StartHandler { return &StartHandler{} }

func (*StartHandler) Kind() string               { return "start" }
func (*StartHandler) RequiredServices() []string { return nil }

func (*StartHandler) ValidateProps(map[string]any) error { return nil }

func (*StartHandler) Execute(_ context.Context, actx handlerregistry.ActivationContext, props map[string]any, _ map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
	if v, ok := props["value"]; ok {
		return core.NewObjectEnvelope(v), nil
	}
	return core.NewObjectEnvelope(actx.Variables()), nil
}

var _ handlerregistry.Handler = (*StartHandler)(nil)
