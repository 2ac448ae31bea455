// Package handlers implements the control-flow handlers and the remaining
// handler kinds registered with the Handler Registry:
// start, endpoint, condition, person_job, person_batch_job, sub_diagram,
// code_job, api_job, db, template_job, json_schema_validator, typescript_ast,
// hook, user_response. Each handler is side-effect-local: external effects go
// through services.Registry, state mutation through handlerregistry.ActivationContext.
package handlers

import (
	"fmt"
	"strconv"
	"strings"
)

// stringProp reads a string prop, returning "" if absent or mistyped.
func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// requireStringProp reads a string prop, erroring if absent or empty.
func requireStringProp(props map[string]any, key, kind string) (string, error) {
	s := stringProp(props, key)
	if s == "" {
		return "", fmt.Errorf("%s: %q is required", kind, key)
	}
	return s, nil
}

// intProp reads an int prop (handling both int and float64, since props may
// arrive JSON-decoded), falling back to def if absent or mistyped.
func intProp(props map[string]any, key string, def int) int {
	switch v := props[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolProp(props map[string]any, key string, def bool) bool {
	if v, ok := props[key].(bool); ok {
		return v
	}
	return def
}

func mapProp(props map[string]any, key string) map[string]any {
	m, _ := props[key].(map[string]any)
	return m
}

func sliceProp(props map[string]any, key string) []any {
	s, _ := props[key].([]any)
	return s
}

func stringSliceProp(props map[string]any, key string) []string {
	raw := sliceProp(props, key)
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// toFloat64 attempts to convert a value to float64, covering the numeric
// shapes that arrive from JSON-decoded props or envelope bodies.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// compare returns -1, 0, or 1 comparing a and b, numerically if both convert
// to float64, lexically otherwise.
func compare(a, b any) int {
	aNum, aOk := toFloat64(a)
	bNum, bOk := toFloat64(b)
	if aOk && bOk {
		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		default:
			return 0
		}
	}
	aStr, bStr := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	return strings.Compare(aStr, bStr)
}

func containsValue(container, value any) bool {
	return strings.Contains(fmt.Sprintf("%v", container), fmt.Sprintf("%v", value))
}

func inValues(v any, values []any) bool {
	for _, candidate := range values {
		if compare(v, candidate) == 0 {
			return true
		}
	}
	return false
}

// isTruthy mirrors the zero-value-is-false convention used across the
// engine's condition and code_job evaluators.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		if f, ok := toFloat64(v); ok {
			return f != 0
		}
		return true
	}
}

// getNestedValue retrieves a value from a nested map using dot notation.
func getNestedValue(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := any(m)
	for _, part := range parts {
		cm, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = cm[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// lookupVar resolves a variable by name from, in order, the active input
// envelope bodies (by handle) and the run's variables, supporting dot
// notation into object bodies.
func lookupVar(name string, inputs map[string]any, variables map[string]any) (any, bool) {
	if v, ok := getNestedValue(inputs, name); ok {
		return v, ok
	}
	if v, ok := getNestedValue(variables, name); ok {
		return v, ok
	}
	return nil, false
}
