package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

func TestHookHandler_DispatchesToKindIntegration(t *testing.T) {
	h := NewHookHandler()
	shell := &fakeIntegration{result: map[string]any{"exit_code": 0.0}}
	svc := services.NewRegistry()
	svc.Register("shell", shell)

	env, err := h.Execute(context.Background(), newActx("hook", 0, nil), map[string]any{"hook_type": "shell", "config": map[string]any{"command": "echo hi"}}, nil, svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shell.args["command"] != "echo hi" {
		t.Errorf("expected command to be forwarded, got %v", shell.args)
	}
	obj, _ := env.AsObject()
	if obj["exit_code"] != 0.0 {
		t.Errorf("expected exit_code 0, got %v", obj["exit_code"])
	}
}

func TestHookHandler_IgnoreErrorPolicySwallowsFailure(t *testing.T) {
	h := NewHookHandler()
	shell := &fakeIntegration{err: errors.New("boom")}
	svc := services.NewRegistry()
	svc.Register("shell", shell)

	props := map[string]any{"hook_type": "shell", "retry_policy": map[string]any{"ignore_error": true}}
	env, err := h.Execute(context.Background(), newActx("hook", 0, nil), props, nil, svc)
	if err != nil {
		t.Fatalf("expected ignore_error to swallow the failure, got %v", err)
	}
	obj, _ := env.AsObject()
	if obj["ok"] != false {
		t.Errorf("expected ok=false in swallowed-error result, got %v", obj)
	}
}

func TestHookHandler_ValidatePropsRejectsUnknownHookType(t *testing.T) {
	h := NewHookHandler()
	if err := h.ValidateProps(map[string]any{"hook_type": "carrier_pigeon"}); err == nil {
		t.Fatal("expected validation error for unknown hook_type")
	}
}
