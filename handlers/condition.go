package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// ConditionOp is a comparison operator for a rule-based condition.
type ConditionOp string

const (
	OpEquals      ConditionOp = "eq"
	OpNotEquals   ConditionOp = "neq"
	OpContains    ConditionOp = "contains"
	OpGreaterThan ConditionOp = "gt"
	OpLessThan    ConditionOp = "lt"
	OpExists      ConditionOp = "exists"
	OpNotExists   ConditionOp = "not_exists"
	OpIn          ConditionOp = "in"
)

var exprSymbols = map[string]ConditionOp{
	"==": OpEquals, "!=": OpNotEquals, ">": OpGreaterThan, "<": OpLessThan,
}

var exprPattern = regexp.MustCompile(`^\s*([A-Za-z_][\w.]*)\s*(==|!=|>|<)\s*(.+?)\s*$`)

// ConditionHandler evaluates a condition over the node's inputs and the run's
// variables and returns an envelope whose metadata declares branch ∈ {true,
// false}. Node exec counts are not among the values a condition can read.
// The scheduler activates exactly the outbound edge matching the returned
// branch.
type ConditionHandler struct{}

func NewConditionHandler() *ConditionHandler { return &ConditionHandler{} }

func (*ConditionHandler) Kind() string               { return "condition" }
func (*ConditionHandler) RequiredServices() []string { return nil }

func (*ConditionHandler) ValidateProps(props map[string]any) error {
	if stringProp(props, "expression") != "" {
		return nil
	}
	if stringProp(props, "variable") != "" && stringProp(props, "operator") != "" {
		return nil
	}
	return fmt.Errorf("condition: requires either \"expression\" or \"variable\"+\"operator\"")
}

func (h *ConditionHandler) Execute(_ context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
	inputVals := envelopeBodies(inputs)
	variables := actx.Variables()

	result, reason, err := h.evaluate(props, inputVals, variables)
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", actx.NodeID, err)
	}

	branch := "false"
	if result {
		branch = "true"
	}

	env := core.NewObjectEnvelope(map[string]any{"result": result, "reason": reason})
	env.WithMeta("branch", branch)

	// A condition marked closes_loop feeds a feedback edge back into a
	// person_job's loop; its result preempts that node's max_iteration count
	// via the loop_done metadata flag that loopClosedByDownstream in
	// person_job.go checks on the next iteration.
	if boolProp(props, "closes_loop", false) {
		env.WithMeta("loop_done", result)
	}
	return env, nil
}

func (h *ConditionHandler) evaluate(props map[string]any, inputs, variables map[string]any) (bool, string, error) {
	if expr := stringProp(props, "expression"); expr != "" {
		return evalExpression(expr, inputs, variables)
	}

	variable, _ := requireStringProp(props, "variable", "condition")
	op := ConditionOp(stringProp(props, "operator"))
	val, exists := lookupVar(variable, inputs, variables)

	result, err := evalOp(op, val, exists, props["value"], sliceProp(props, "values"))
	if err != nil {
		return false, "", err
	}
	return result, fmt.Sprintf("%s %s %v", variable, op, props["value"]), nil
}

// evalExpression parses and evaluates a minimal "var OP literal" expression,
// e.g. "x > 0" or "status == \"done\"". Literals parse as numbers when
// possible, else as bare strings (quotes are optional and stripped).
func evalExpression(expr string, inputs, variables map[string]any) (bool, string, error) {
	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return false, "", fmt.Errorf("unsupported expression %q", expr)
	}
	varName, symbol, literal := m[1], m[2], m[3]
	literal = strings.Trim(literal, `"'`)

	val, exists := lookupVar(varName, inputs, variables)
	op := exprSymbols[symbol]

	var target any = literal
	if f, err := strconv.ParseFloat(literal, 64); err == nil {
		target = f
	}

	result, err := evalOp(op, val, exists, target, nil)
	return result, expr, err
}

func evalOp(op ConditionOp, val any, exists bool, target any, targets []any) (bool, error) {
	switch op {
	case OpExists:
		return exists, nil
	case OpNotExists:
		return !exists, nil
	case OpEquals:
		return exists && compare(val, target) == 0, nil
	case OpNotEquals:
		return !exists || compare(val, target) != 0, nil
	case OpGreaterThan:
		return exists && compare(val, target) > 0, nil
	case OpLessThan:
		return exists && compare(val, target) < 0, nil
	case OpContains:
		return exists && containsValue(val, target), nil
	case OpIn:
		return exists && inValues(val, targets), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func envelopeBodies(inputs map[string]*core.Envelope) map[string]any {
	out := make(map[string]any, len(inputs))
	for handle, env := range inputs {
		if env == nil {
			continue
		}
		out[handle] = env.Body
	}
	if obj, ok := out["default"].(map[string]any); ok {
		for k, v := range obj {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out
}

var _ handlerregistry.Handler = (*ConditionHandler)(nil)
