package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// UserResponseHandler suspends node activation on an interactive prompt,
// rendering its prompt template against the node's inputs and run variables
// before handing off to the registered InteractivePort. The prompt timeout
// comes from the node's timeout_seconds prop and defaults to five minutes.
type UserResponseHandler struct{}

func NewUserResponseHandler() *UserResponseHandler { return &UserResponseHandler{} }

func (*UserResponseHandler) Kind() string               { return "user_response" }
func (*UserResponseHandler) RequiredServices() []string { return []string{"interactive"} }

func (*UserResponseHandler) ValidateProps(props map[string]any) error {
	_, err := requireStringProp(props, "prompt", "user_response")
	return err
}

func (*UserResponseHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	interactive, ok := svc.Interactive()
	if !ok {
		return nil, &services.ConfigurationError{Service: "interactive", NodeID: actx.NodeID}
	}

	data := envelopeBodies(inputs)
	for k, v := range actx.Variables() {
		if _, exists := data[k]; !exists {
			data[k] = v
		}
	}

	prompt, err := renderPrompt(stringProp(props, "prompt"), inputText(inputs, actx.ExecCount), data)
	if err != nil {
		return nil, fmt.Errorf("user_response %s: rendering prompt: %w", actx.NodeID, err)
	}

	timeout := time.Duration(intProp(props, "timeout_seconds", 300)) * time.Second

	answer, err := interactive.Prompt(ctx, services.InteractivePrompt{
		NodeID:  actx.NodeID,
		Prompt:  prompt,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("user_response %s: %w", actx.NodeID, err)
	}

	return core.NewTextEnvelope(answer), nil
}

var _ handlerregistry.Handler = (*UserResponseHandler)(nil)
