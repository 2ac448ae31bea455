package handlers

import (
	"context"
	"testing"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

func TestDBHandler_WriteThenRead(t *testing.T) {
	h := NewDBHandler()
	fs := newFakeFilesystem()
	svc := services.NewRegistry()
	svc.Register("filesystem", fs)

	inputs := map[string]*core.Envelope{"default": core.NewTextEnvelope("hello")}
	if _, err := h.Execute(context.Background(), newActx("db", 0, nil), map[string]any{"operation": "write", "path": "a.txt"}, inputs, svc); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	env, err := h.Execute(context.Background(), newActx("db", 0, nil), map[string]any{"operation": "read", "path": "a.txt"}, nil, svc)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if text, _ := env.AsText(); text != "hello" {
		t.Errorf("expected \"hello\", got %q", text)
	}
}

func TestDBHandler_Exists(t *testing.T) {
	h := NewDBHandler()
	fs := newFakeFilesystem()
	fs.files["seen.txt"] = []byte("x")
	svc := services.NewRegistry()
	svc.Register("filesystem", fs)

	env, err := h.Execute(context.Background(), newActx("db", 0, nil), map[string]any{"operation": "exists", "path": "seen.txt"}, nil, svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, _ := env.AsObject()
	if obj["exists"] != true {
		t.Errorf("expected exists=true, got %v", obj["exists"])
	}
}

func TestDBHandler_ValidatePropsRejectsUnknownOperation(t *testing.T) {
	h := NewDBHandler()
	if err := h.ValidateProps(map[string]any{"operation": "delete", "path": "a.txt"}); err == nil {
		t.Fatal("expected validation error for unknown operation")
	}
}

func TestDBHandler_ValidatePropsAllowsListWithoutPath(t *testing.T) {
	h := NewDBHandler()
	if err := h.ValidateProps(map[string]any{"operation": "list"}); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
