package handlers

import (
	"context"
	"testing"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

func TestCodeJobHandler_DoublesInputVariable(t *testing.T) {
	h := NewCodeJobHandler()
	actx := newActx("code", 0, map[string]any{"x": 21.0})

	env, err := h.Execute(context.Background(), actx, map[string]any{"expression": "x * 2"}, nil, services.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, ok := env.Body.(float64)
	if !ok || result != 42 {
		t.Errorf("expected 42, got %v (%T)", env.Body, env.Body)
	}
}

func TestCodeJobHandler_InputOverridesVariable(t *testing.T) {
	h := NewCodeJobHandler()
	actx := newActx("code", 0, map[string]any{"x": 1.0})
	inputs := map[string]*core.Envelope{"default": core.NewObjectEnvelope(map[string]any{"x": 10.0})}

	env, err := h.Execute(context.Background(), actx, map[string]any{"expression": "x + 1"}, inputs, services.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Body.(float64) != 11 {
		t.Errorf("expected 11, got %v", env.Body)
	}
}

func TestCodeJobHandler_UnknownVariableErrors(t *testing.T) {
	h := NewCodeJobHandler()
	actx := newActx("code", 0, nil)

	_, err := h.Execute(context.Background(), actx, map[string]any{"expression": "y + 1"}, nil, services.NewRegistry())
	if err == nil {
		t.Fatal("expected error for unresolved variable")
	}
}

func TestCodeJobHandler_ValidatePropsRequiresExpression(t *testing.T) {
	h := NewCodeJobHandler()
	if err := h.ValidateProps(map[string]any{}); err == nil {
		t.Fatal("expected validation error for missing expression")
	}
}
