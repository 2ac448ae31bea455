package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// TemplateJobHandler renders a template against the node's inputs and run
// variables via the templates service: render(template_source, variables) →
// string, deterministic, no I/O.
type TemplateJobHandler struct{}

func NewTemplateJobHandler() *TemplateJobHandler { return &TemplateJobHandler{} }

func (*TemplateJobHandler) Kind() string               { return "template_job" }
func (*TemplateJobHandler) RequiredServices() []string { return []string{"templates"} }

func (*TemplateJobHandler) ValidateProps(props map[string]any) error {
	_, err := requireStringProp(props, "template", "template_job")
	return err
}

func (*TemplateJobHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	tpl, ok := svc.Templates()
	if !ok {
		return nil, &services.ConfigurationError{Service: "templates", NodeID: actx.NodeID}
	}

	source := stringProp(props, "template")
	variables := envelopeBodies(inputs)
	for k, v := range actx.Variables() {
		if _, exists := variables[k]; !exists {
			variables[k] = v
		}
	}

	rendered, err := tpl.Render(ctx, source, variables)
	if err != nil {
		return nil, fmt.Errorf("template_job %s: %w", actx.NodeID, err)
	}
	return core.NewTextEnvelope(rendered), nil
}

var _ handlerregistry.Handler = (*TemplateJobHandler)(nil)
