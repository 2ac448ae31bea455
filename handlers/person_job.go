package handlers

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/engine"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// PersonJobHandler is the iterating LLM node. On activation it
// composes a prompt (first_only_prompt when exec_count == 0, else
// default_prompt), optionally applies memory selection, calls the llm
// service, appends both sides of the exchange to conversation, and signals
// loop continuation via envelope metadata "iterate" when exec_count+1 is
// still under max_iteration and no downstream condition has closed the loop
// early (an upstream feedback-edge input carrying metadata "loop_done": true
// — the engine's iterate/branch convention extended one step for early
// termination).
type PersonJobHandler struct{}

func NewPersonJobHandler() *PersonJobHandler { return &PersonJobHandler{} }

func (*PersonJobHandler) Kind() string               { return "person_job" }
func (*PersonJobHandler) RequiredServices() []string { return []string{"llm", "conversation"} }

func (*PersonJobHandler) ValidateProps(props map[string]any) error {
	_, err := requireStringProp(props, "person_id", "person_job")
	return err
}

func (h *PersonJobHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	personID := stringProp(props, "person_id")

	llm, ok := svc.LLM()
	if !ok {
		return nil, &services.ConfigurationError{Service: "llm", NodeID: actx.NodeID}
	}
	conv, ok := svc.Conversation()
	if !ok {
		return nil, &services.ConfigurationError{Service: "conversation", NodeID: actx.NodeID}
	}

	maxIter := intProp(props, "max_iteration", 1)
	promptTemplate := selectPromptTemplate(props, actx.ExecCount)

	content := inputText(inputs, actx.ExecCount)
	prompt, err := renderPrompt(promptTemplate, content, actx.Variables())
	if err != nil {
		return nil, fmt.Errorf("person_job %s: %w", actx.NodeID, err)
	}

	history, err := selectHistory(ctx, conv, personID, props)
	if err != nil {
		return nil, fmt.Errorf("person_job %s: %w", actx.NodeID, err)
	}

	messages := make([]services.LLMMessage, 0, len(history)+2)
	if system := stringProp(props, "system"); system != "" {
		messages = append(messages, services.LLMMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		messages = append(messages, services.LLMMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, services.LLMMessage{Role: "user", Content: prompt})

	apiKey, err := resolveAPIKey(ctx, svc, props)
	if err != nil {
		return nil, err
	}

	resp, err := llm.Complete(ctx, services.LLMRequest{
		Provider: stringProp(props, "service"),
		Model:    stringProp(props, "model"),
		APIKey:   apiKey,
		Messages: messages,
		Options:  mapProp(props, "options"),
	})
	if err != nil {
		return nil, engine.NewError(engine.CodeExternalService, "llm completion failed", actx.NodeID, err)
	}

	now := time.Now()
	_ = conv.Append(ctx, personID, services.ConversationMessage{Role: "user", Content: prompt, SourceNodeID: actx.NodeID})
	_ = conv.Append(ctx, personID, services.ConversationMessage{Role: "assistant", Content: resp.Text, SourceNodeID: actx.NodeID, Meta: map[string]any{"at": now}})

	env := core.NewTextEnvelope(resp.Text)
	env.WithMeta("token_usage", core.TokenUsage{Input: resp.Usage.Input, Output: resp.Usage.Output, Cached: resp.Usage.Cached, Total: resp.Usage.Input + resp.Usage.Output})

	if actx.ExecCount+1 < maxIter && !loopClosedByDownstream(inputs) {
		env.WithMeta("iterate", true)
	}
	return env, nil
}

func selectPromptTemplate(props map[string]any, execCount int) string {
	if execCount == 0 {
		if t := stringProp(props, "first_only_prompt"); t != "" {
			return t
		}
	}
	return stringProp(props, "default_prompt")
}

func inputText(inputs map[string]*core.Envelope, execCount int) string {
	var env *core.Envelope
	if execCount == 0 {
		env = inputs["first"]
	}
	if env == nil {
		env = inputs["default"]
	}
	if env == nil {
		return ""
	}
	if s, ok := env.AsText(); ok {
		return s
	}
	return fmt.Sprintf("%v", env.Body)
}

func renderPrompt(source, content string, variables map[string]any) (string, error) {
	if source == "" {
		return content, nil
	}
	tmpl, err := template.New("prompt").Parse(source)
	if err != nil {
		return "", fmt.Errorf("invalid prompt template: %w", err)
	}
	data := map[string]any{"input": content}
	for k, v := range variables {
		data[k] = v
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt template execution failed: %w", err)
	}
	return buf.String(), nil
}

func selectHistory(ctx context.Context, conv services.ConversationPort, personID string, props map[string]any) ([]services.ConversationMessage, error) {
	sel := mapProp(props, "memory_selection")
	if sel == nil {
		return conv.All(ctx, personID)
	}
	criteria := services.SelectionCriteria{
		AtMost:             intProp(sel, "at_most", 0),
		Keywords:           stringSliceProp(sel, "keywords"),
		ExcludeTaskPreview: boolProp(sel, "exclude_task_preview", false),
	}
	return conv.Select(ctx, personID, criteria)
}

func resolveAPIKey(ctx context.Context, svc *services.Registry, props map[string]any) (string, error) {
	ref := stringProp(props, "api_key_ref")
	if ref == "" {
		return "", nil
	}
	keys, ok := svc.APIKeys()
	if !ok {
		return "", &services.ConfigurationError{Service: "api_keys", NodeID: ""}
	}
	return keys.Get(ctx, ref)
}

// loopClosedByDownstream reports whether a feedback-edge input carries a
// loop_done metadata flag set by a downstream condition, which preempts
// max_iteration.
func loopClosedByDownstream(inputs map[string]*core.Envelope) bool {
	for _, env := range inputs {
		if env == nil {
			continue
		}
		if v, ok := env.Meta("loop_done"); ok {
			if done, ok := v.(bool); ok && done {
				return true
			}
		}
	}
	return false
}

var _ handlerregistry.Handler = (*PersonJobHandler)(nil)
