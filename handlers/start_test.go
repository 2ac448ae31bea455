package handlers

import (
	"context"
	"testing"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

func TestStartHandler_UsesConfiguredValue(t *testing.T) {
	h := NewStartHandler()
	actx := newActx("start", 0, map[string]any{"x": 1})

	env, err := h.Execute(context.Background(), actx, map[string]any{"value": "seed"}, nil, services.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text, _ := env.AsText(); text != "seed" {
		t.Errorf("expected body \"seed\", got %v", env.Body)
	}
}

func TestStartHandler_FallsBackToRunVariables(t *testing.T) {
	h := NewStartHandler()
	actx := newActx("start", 0, map[string]any{"x": 21})

	env, err := h.Execute(context.Background(), actx, map[string]any{}, nil, services.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := env.AsObject()
	if !ok {
		t.Fatalf("expected object body, got %T", env.Body)
	}
	if obj["x"] != 21 {
		t.Errorf("expected x=21, got %v", obj["x"])
	}
}
