package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/engine"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// PersonBatchJobHandler runs one LLM completion per item of a list input in a
// single activation (no iteration/loop), aggregating results and token usage.
// It shares PersonJobHandler's prompt/history plumbing but never re-enqueues
// itself — batching is exec_count == 1 by construction.
type PersonBatchJobHandler struct{}

func NewPersonBatchJobHandler() *PersonBatchJobHandler { return &PersonBatchJobHandler{} }

func (*PersonBatchJobHandler) Kind() string               { return "person_batch_job" }
func (*PersonBatchJobHandler) RequiredServices() []string { return []string{"llm", "conversation"} }

func (*PersonBatchJobHandler) ValidateProps(props map[string]any) error {
	_, err := requireStringProp(props, "person_id", "person_batch_job")
	return err
}

func (h *PersonBatchJobHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	personID := stringProp(props, "person_id")

	llm, ok := svc.LLM()
	if !ok {
		return nil, &services.ConfigurationError{Service: "llm", NodeID: actx.NodeID}
	}
	conv, ok := svc.Conversation()
	if !ok {
		return nil, &services.ConfigurationError{Service: "conversation", NodeID: actx.NodeID}
	}

	in, ok := inputs["default"]
	if !ok {
		return nil, fmt.Errorf("person_batch_job %s: no items on \"default\" handle", actx.NodeID)
	}
	items, ok := in.Body.([]any)
	if !ok {
		items = []any{in.Body}
	}

	promptTemplate := stringProp(props, "default_prompt")
	results := make([]any, len(items))
	var total core.TokenUsage

	for i, item := range items {
		prompt, err := renderPrompt(promptTemplate, fmt.Sprintf("%v", item), actx.Variables())
		if err != nil {
			return nil, fmt.Errorf("person_batch_job %s: item %d: %w", actx.NodeID, i, err)
		}

		messages := []services.LLMMessage{{Role: "user", Content: prompt}}
		if system := stringProp(props, "system"); system != "" {
			messages = append([]services.LLMMessage{{Role: "system", Content: system}}, messages...)
		}

		resp, err := llm.Complete(ctx, services.LLMRequest{
			Provider: stringProp(props, "service"),
			Model:    stringProp(props, "model"),
			Messages: messages,
		})
		if err != nil {
			return nil, engine.NewError(engine.CodeExternalService, fmt.Sprintf("item %d", i), actx.NodeID, err)
		}

		_ = conv.Append(ctx, personID, services.ConversationMessage{Role: "user", Content: prompt, SourceNodeID: actx.NodeID})
		_ = conv.Append(ctx, personID, services.ConversationMessage{Role: "assistant", Content: resp.Text, SourceNodeID: actx.NodeID})

		results[i] = resp.Text
		total = total.Add(core.TokenUsage{Input: resp.Usage.Input, Output: resp.Usage.Output, Cached: resp.Usage.Cached})
	}

	env := core.NewObjectEnvelope(results)
	env.WithMeta("token_usage", total)
	return env, nil
}

var _ handlerregistry.Handler = (*PersonBatchJobHandler)(nil)
