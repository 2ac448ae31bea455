package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// EndpointHandler is the sink kind: it collects every input into
// an ordered record (already merged into a list body by the engine's join
// policy, since planner marks Endpoint a sink), optionally persists it via
// the filesystem service, and passes it through as the run's final envelope.
type EndpointHandler struct{}

func NewEndpointHandler() *EndpointHandler { return &EndpointHandler{} }

func (*EndpointHandler) Kind() string               { return "endpoint" }
func (*EndpointHandler) RequiredServices() []string { return nil }

func (*EndpointHandler) ValidateProps(map[string]any) error { return nil }

func (*EndpointHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	in, ok := inputs["default"]
	if !ok {
		in = core.NewObjectEnvelope(nil)
	}
	out := in.Clone()

	if path := stringProp(props, "save_to_path"); path != "" {
		fs, ok := svc.Filesystem()
		if !ok {
			return nil, &services.ConfigurationError{Service: "filesystem", NodeID: actx.NodeID}
		}
		data, err := json.MarshalIndent(out.Body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: marshal output: %w", actx.NodeID, err)
		}
		if err := fs.Write(ctx, path, data); err != nil {
			return nil, fmt.Errorf("endpoint %s: write output: %w", actx.NodeID, err)
		}
	}

	return out, nil
}

var _ handlerregistry.Handler = (*EndpointHandler)(nil)
