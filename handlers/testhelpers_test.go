package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

func newActx(nodeID string, execCount int, vars map[string]any) handlerregistry.ActivationContext {
	if vars == nil {
		vars = map[string]any{}
	}
	return handlerregistry.ActivationContext{
		ExecutionID: "exec-1",
		NodeID:      nodeID,
		ExecCount:   execCount,
		Variables:   func() map[string]any { return vars },
		SetVariable: func(k string, v any) { vars[k] = v },
		Emit:        func(string, map[string]any) {},
	}
}

type fakeLLM struct {
	texts []string
	usage services.TokenUsage
	err   error
	reqs  []services.LLMRequest
}

func (f *fakeLLM) Complete(_ context.Context, req services.LLMRequest) (services.LLMResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return services.LLMResult{}, f.err
	}
	idx := len(f.reqs) - 1
	text := f.texts[0]
	if idx < len(f.texts) {
		text = f.texts[idx]
	}
	return services.LLMResult{Text: text, Usage: f.usage}, nil
}

type fakeConversation struct {
	messages map[string][]services.ConversationMessage
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{messages: map[string][]services.ConversationMessage{}}
}

func (f *fakeConversation) Append(_ context.Context, personID string, msg services.ConversationMessage) error {
	f.messages[personID] = append(f.messages[personID], msg)
	return nil
}

func (f *fakeConversation) Select(ctx context.Context, personID string, criteria services.SelectionCriteria) ([]services.ConversationMessage, error) {
	all := f.messages[personID]
	if criteria.AtMost > 0 && criteria.AtMost < len(all) {
		return all[len(all)-criteria.AtMost:], nil
	}
	return all, nil
}

func (f *fakeConversation) All(_ context.Context, personID string) ([]services.ConversationMessage, error) {
	return f.messages[personID], nil
}

type fakeFilesystem struct {
	files map[string][]byte
	dirs  map[string][]string
}

func newFakeFilesystem() *fakeFilesystem {
	return &fakeFilesystem{files: map[string][]byte{}, dirs: map[string][]string{}}
}

func (f *fakeFilesystem) Read(_ context.Context, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return data, nil
}

func (f *fakeFilesystem) Write(_ context.Context, path string, data []byte) error {
	f.files[path] = data
	return nil
}

func (f *fakeFilesystem) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeFilesystem) List(_ context.Context, dir string) ([]string, error) {
	return f.dirs[dir], nil
}

func (f *fakeFilesystem) Mkdir(_ context.Context, path string) error {
	f.dirs[path] = nil
	return nil
}

type fakeTemplates struct{}

func (fakeTemplates) Render(_ context.Context, source string, variables map[string]any) (string, error) {
	return renderPrompt(source, "", variables)
}

type fakeIntegration struct {
	result map[string]any
	err    error
	action string
	args   map[string]any
}

func (f *fakeIntegration) Invoke(_ context.Context, action string, args map[string]any) (map[string]any, error) {
	f.action = action
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeInteractive struct {
	answer string
	err    error
	prompt services.InteractivePrompt
}

func (f *fakeInteractive) Prompt(_ context.Context, p services.InteractivePrompt) (string, error) {
	f.prompt = p
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeSubDiagram struct {
	handle          services.SubDiagramHandle
	result          services.SubDiagramResult
	loadErr, runErr error
	ranInputs       map[string]any
}

func (f *fakeSubDiagram) Load(_ context.Context, _, _ string) (services.SubDiagramHandle, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.handle, nil
}

func (f *fakeSubDiagram) Run(_ context.Context, _ services.SubDiagramHandle, inputs map[string]any) (services.SubDiagramResult, error) {
	f.ranInputs = inputs
	if f.runErr != nil {
		return services.SubDiagramResult{}, f.runErr
	}
	return f.result, nil
}
