package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/engine"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// APIJobHandler invokes a named integration port (Notion, webhook, and
// other provider-specific operation verbs), generalized from a hardcoded
// HTTP client to the Service Registry's integration lookup, since the
// integration to call is a per-node property rather than a fixed dependency
// the handler can declare statically.
type APIJobHandler struct{}

func NewAPIJobHandler() *APIJobHandler { return &APIJobHandler{} }

func (*APIJobHandler) Kind() string               { return "api_job" }
func (*APIJobHandler) RequiredServices() []string { return nil }

func (*APIJobHandler) ValidateProps(props map[string]any) error {
	if _, err := requireStringProp(props, "service", "api_job"); err != nil {
		return err
	}
	_, err := requireStringProp(props, "action", "api_job")
	return err
}

func (*APIJobHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	name := stringProp(props, "service")
	action := stringProp(props, "action")

	integration, ok := svc.Integration(name)
	if !ok {
		return nil, &services.ConfigurationError{Service: name, NodeID: actx.NodeID}
	}

	args := mergeArgs(mapProp(props, "args"), inputs)
	result, err := integration.Invoke(ctx, action, args)
	if err != nil {
		return nil, engine.NewError(engine.CodeExternalService, fmt.Sprintf("%s.%s failed", name, action), actx.NodeID, err)
	}

	return core.NewObjectEnvelope(result), nil
}

func mergeArgs(base map[string]any, inputs map[string]*core.Envelope) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	if in, ok := inputs["default"]; ok {
		if obj, ok := in.AsObject(); ok {
			for k, v := range obj {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		} else {
			out["input"] = in.Body
		}
	}
	return out
}

var _ handlerregistry.Handler = (*APIJobHandler)(nil)
