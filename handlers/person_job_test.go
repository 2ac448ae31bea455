package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

func newPersonJobRegistry(llm *fakeLLM, conv *fakeConversation) *services.Registry {
	svc := services.NewRegistry()
	svc.Register("llm", llm)
	svc.Register("conversation", conv)
	return svc
}

func TestPersonJobHandler_IteratesThenStops(t *testing.T) {
	h := NewPersonJobHandler()
	llm := &fakeLLM{texts: []string{"hi!", "hi!!", "hi!!!"}}
	conv := newFakeConversation()
	svc := newPersonJobRegistry(llm, conv)

	props := map[string]any{"person_id": "p1", "max_iteration": 3}
	inputs := map[string]*core.Envelope{"first": core.NewTextEnvelope("hi")}

	env, err := h.Execute(context.Background(), newActx("pj", 0, nil), props, inputs, svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.Meta("iterate"); !ok {
		t.Fatal("expected iterate=true on first activation (execCount 0 < max_iteration-1)")
	}

	env, err = h.Execute(context.Background(), newActx("pj", 1, nil), props, nil, svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.Meta("iterate"); !ok {
		t.Fatal("expected iterate=true on second activation")
	}

	env, err = h.Execute(context.Background(), newActx("pj", 2, nil), props, nil, svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.Meta("iterate"); ok {
		t.Fatal("expected no iterate metadata once max_iteration is reached")
	}
	if text, _ := env.AsText(); text != "hi!!!" {
		t.Errorf("expected final text \"hi!!!\", got %q", text)
	}

	if len(conv.messages["p1"]) != 6 {
		t.Errorf("expected 6 appended messages (3 rounds x 2 sides), got %d", len(conv.messages["p1"]))
	}
}

func TestPersonJobHandler_LoopDoneFromDownstreamStopsIteration(t *testing.T) {
	h := NewPersonJobHandler()
	llm := &fakeLLM{texts: []string{"done"}}
	conv := newFakeConversation()
	svc := newPersonJobRegistry(llm, conv)

	props := map[string]any{"person_id": "p1", "max_iteration": 10}
	feedback := core.NewObjectEnvelope(nil)
	feedback.WithMeta("loop_done", true)
	inputs := map[string]*core.Envelope{"feedback": feedback}

	env, err := h.Execute(context.Background(), newActx("pj", 0, nil), props, inputs, svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.Meta("iterate"); ok {
		t.Fatal("expected no iterate metadata once a downstream condition closed the loop")
	}
}

func TestPersonJobHandler_MissingLLMFailsConfiguration(t *testing.T) {
	h := NewPersonJobHandler()
	svc := services.NewRegistry()
	svc.Register("conversation", newFakeConversation())

	_, err := h.Execute(context.Background(), newActx("pj", 0, nil), map[string]any{"person_id": "p1"}, nil, svc)
	var cfgErr *services.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Service != "llm" {
		t.Fatalf("expected configuration error for llm, got %v", err)
	}
}

func TestPersonJobHandler_FirstOnlyPromptUsedOnFirstActivation(t *testing.T) {
	h := NewPersonJobHandler()
	llm := &fakeLLM{texts: []string{"ok", "ok"}}
	conv := newFakeConversation()
	svc := newPersonJobRegistry(llm, conv)

	props := map[string]any{
		"person_id":         "p1",
		"max_iteration":     2,
		"first_only_prompt": "first: {{.input}}",
		"default_prompt":    "again: {{.input}}",
	}
	inputs := map[string]*core.Envelope{"first": core.NewTextEnvelope("go")}

	if _, err := h.Execute(context.Background(), newActx("pj", 0, nil), props, inputs, svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.Execute(context.Background(), newActx("pj", 1, nil), props, nil, svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(llm.reqs) != 2 {
		t.Fatalf("expected 2 LLM requests, got %d", len(llm.reqs))
	}
	firstPrompt := llm.reqs[0].Messages[len(llm.reqs[0].Messages)-1].Content
	secondPrompt := llm.reqs[1].Messages[len(llm.reqs[1].Messages)-1].Content
	if firstPrompt != "first: go" {
		t.Errorf("expected first-only prompt rendering, got %q", firstPrompt)
	}
	if secondPrompt != "again: " {
		t.Errorf("expected default prompt rendering on second call, got %q", secondPrompt)
	}
}
