package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/engine"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// hookKinds maps a "hook" node's hook_type prop to the integration name that
// carries it out, splitting ingress shape from outbound side effect: a hook
// is an outbound call to an out-of-process collaborator (shell, HTTP, a
// script runtime) named by kind rather than a fixed dependency.
var hookKinds = map[string]string{
	"shell":   "shell",
	"webhook": "webhook",
	"http":    "webhook",
	"python":  "python",
}

// HookHandler dispatches a lifecycle side-effect call (shell command, HTTP
// webhook, script invocation) through the named integration for its
// hook_type. Unlike api_job, the integration name is derived from a small
// fixed vocabulary rather than supplied directly.
type HookHandler struct{}

func NewHookHandler() *HookHandler { return &HookHandler{} }

func (*HookHandler) Kind() string               { return "hook" }
func (*HookHandler) RequiredServices() []string { return nil }

func (*HookHandler) ValidateProps(props map[string]any) error {
	kind, err := requireStringProp(props, "hook_type", "hook")
	if err != nil {
		return err
	}
	if _, ok := hookKinds[kind]; !ok {
		return fmt.Errorf("hook: unknown hook_type %q", kind)
	}
	return nil
}

func (*HookHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	kind := stringProp(props, "hook_type")
	integrationName := hookKinds[kind]

	integration, ok := svc.Integration(integrationName)
	if !ok {
		return nil, &services.ConfigurationError{Service: integrationName, NodeID: actx.NodeID}
	}

	args := mergeArgs(mapProp(props, "config"), inputs)
	if timeoutSeconds := intProp(props, "timeout_seconds", 0); timeoutSeconds > 0 {
		args["timeout_seconds"] = timeoutSeconds
	}

	result, err := integration.Invoke(ctx, kind, args)
	if err != nil {
		if boolProp(mapProp(props, "retry_policy"), "ignore_error", false) {
			return core.NewObjectEnvelope(map[string]any{"ok": false, "error": err.Error()}), nil
		}
		return nil, engine.NewError(engine.CodeExternalService, fmt.Sprintf("hook %s failed", kind), actx.NodeID, err)
	}

	return core.NewObjectEnvelope(result), nil
}

var _ handlerregistry.Handler = (*HookHandler)(nil)
