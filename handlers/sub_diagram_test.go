package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

func TestSubDiagramHandler_ReturnsChildEndpointBody(t *testing.T) {
	h := NewSubDiagramHandler()
	sd := &fakeSubDiagram{result: services.SubDiagramResult{
		EndpointBody: map[string]any{"sum": 3},
		Status:       "completed",
		TokenUsage:   services.TokenUsage{Input: 1, Output: 2},
	}}
	svc := services.NewRegistry()
	svc.Register("sub_diagram", sd)

	inputs := map[string]*core.Envelope{"default": core.NewObjectEnvelope(map[string]any{"a": 1, "b": 2})}
	env, err := h.Execute(context.Background(), newActx("sub", 0, nil), map[string]any{"diagram": "child.json"}, inputs, svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, _ := env.AsObject()
	if obj["sum"] != 3 {
		t.Errorf("expected sum=3, got %v", obj["sum"])
	}
	if sd.ranInputs["a"] != 1 {
		t.Errorf("expected child inputs to carry a=1, got %v", sd.ranInputs)
	}
}

func TestSubDiagramHandler_FailedChildFailsNode(t *testing.T) {
	h := NewSubDiagramHandler()
	sd := &fakeSubDiagram{result: services.SubDiagramResult{Status: "failed", Error: "boom"}}
	svc := services.NewRegistry()
	svc.Register("sub_diagram", sd)

	_, err := h.Execute(context.Background(), newActx("sub", 0, nil), map[string]any{"diagram": "child.json"}, nil, svc)
	if err == nil {
		t.Fatal("expected error when child run fails")
	}
}

func TestSubDiagramHandler_MissingServiceFailsConfiguration(t *testing.T) {
	h := NewSubDiagramHandler()
	_, err := h.Execute(context.Background(), newActx("sub", 0, nil), map[string]any{"diagram": "child.json"}, nil, services.NewRegistry())
	var cfgErr *services.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
