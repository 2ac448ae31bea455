package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// JSONSchemaValidatorHandler validates the "default" input's body against a
// schema subset (type, required, properties, items) declared in props. No
// full JSON Schema implementation is in the dependency pack, so this covers
// the structural subset already used for LLM structured-output schemas. On
// success the input passes through unchanged; on failure the node fails
// with a descriptive error.
type JSONSchemaValidatorHandler struct{}

func NewJSONSchemaValidatorHandler() *JSONSchemaValidatorHandler {
	return &JSONSchemaValidatorHandler{}
}

func (*JSONSchemaValidatorHandler) Kind() string               { return "json_schema_validator" }
func (*JSONSchemaValidatorHandler) RequiredServices() []string { return nil }

func (*JSONSchemaValidatorHandler) ValidateProps(props map[string]any) error {
	if mapProp(props, "schema") == nil {
		return fmt.Errorf("json_schema_validator: \"schema\" is required")
	}
	return nil
}

func (*JSONSchemaValidatorHandler) Execute(_ context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, _ *services.Registry) (*core.Envelope, error) {
	in, ok := inputs["default"]
	if !ok {
		return nil, fmt.Errorf("json_schema_validator %s: no \"default\" input to validate", actx.NodeID)
	}
	schema := mapProp(props, "schema")
	if err := validateAgainstSchema(in.Body, schema, "$"); err != nil {
		return nil, fmt.Errorf("json_schema_validator %s: %w", actx.NodeID, err)
	}
	return in, nil
}

func validateAgainstSchema(value any, schema map[string]any, path string) error {
	if wantType, ok := schema["type"].(string); ok {
		if err := checkType(value, wantType, path); err != nil {
			return err
		}
	}

	obj, isObj := value.(map[string]any)
	if props, ok := schema["properties"].(map[string]any); ok && isObj {
		for key, sub := range props {
			subSchema, _ := sub.(map[string]any)
			if v, present := obj[key]; present {
				if err := validateAgainstSchema(v, subSchema, path+"."+key); err != nil {
					return err
				}
			}
		}
	}

	for _, req := range stringSliceProp(schema, "required") {
		if !isObj {
			return fmt.Errorf("%s: expected object to check required field %q", path, req)
		}
		if _, present := obj[req]; !present {
			return fmt.Errorf("%s: missing required field %q", path, req)
		}
	}

	if items, ok := schema["items"].(map[string]any); ok {
		if list, ok := value.([]any); ok {
			for i, item := range list {
				if err := validateAgainstSchema(item, items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func checkType(value any, wantType, path string) error {
	ok := false
	switch wantType {
	case "object":
		_, ok = value.(map[string]any)
	case "array":
		_, ok = value.([]any)
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = toFloat64(value)
	case "boolean":
		_, ok = value.(bool)
	case "null":
		ok = value == nil
	default:
		return fmt.Errorf("%s: unsupported schema type %q", path, wantType)
	}
	if !ok {
		return fmt.Errorf("%s: expected type %q, got %T", path, wantType, value)
	}
	return nil
}

var _ handlerregistry.Handler = (*JSONSchemaValidatorHandler)(nil)
