// Package transform implements the Envelope & Transform Library:
// the typed transform rules applied by the input resolution pipeline (C6) as
// values cross an arrow, plus helpers for coercing envelope content types.
package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/diagram"
)

// Kind identifies a transform rule type.
type Kind string

const (
	KindExtract   Kind = "extract"
	KindWrap      Kind = "wrap"
	KindMap       Kind = "map"
	KindTemplate  Kind = "template"
	KindParseJSON Kind = "parse_json"
	KindDefault   Kind = "default"
)

// Rule is one typed transform step. Rules compose left-to-right: each rule
// consumes the envelope body produced by the previous rule.
type Rule struct {
	Kind Kind
	// Field is used by KindExtract: the object field to project.
	Field string
	// Key is used by KindWrap: the key the current value is wrapped under.
	Key string
	// Table is used by KindMap: a lookup substitution table.
	Table map[string]any
	// Source is used by KindTemplate: a Go text/template source string.
	Source string
}

// Apply runs a rule against an envelope body, returning the transformed body
// and content type. A rule fails only for KindExtract (body not an object, or
// field missing), KindTemplate (parse or render error) and an unknown kind;
// the other kinds never error.
func (r Rule) Apply(env *core.Envelope) (*core.Envelope, error) {
	switch r.Kind {
	case KindExtract:
		return applyExtract(env, r.Field)
	case KindWrap:
		return applyWrap(env, r.Key), nil
	case KindMap:
		return applyMap(env, r.Table), nil
	case KindTemplate:
		return applyTemplate(env, r.Source)
	case KindParseJSON:
		return applyParseJSON(env), nil
	case KindDefault, "":
		return env, nil
	default:
		return nil, fmt.Errorf("transform: unknown rule kind %q", r.Kind)
	}
}

// Chain applies a sequence of rules in order, short-circuiting on the first
// error.
func Chain(env *core.Envelope, rules []Rule) (*core.Envelope, error) {
	cur := env
	for i, rule := range rules {
		next, err := rule.Apply(cur)
		if err != nil {
			return nil, fmt.Errorf("transform: rule %d (%s): %w", i, rule.Kind, err)
		}
		cur = next
	}
	return cur, nil
}

func applyExtract(env *core.Envelope, field string) (*core.Envelope, error) {
	obj, ok := env.AsObject()
	if !ok {
		return nil, fmt.Errorf("extract(%q): body is not an object", field)
	}
	v, ok := obj[field]
	if !ok {
		return nil, fmt.Errorf("extract(%q): field not present", field)
	}
	out := env.Clone()
	out.Body = v
	out.ContentType = bodyContentType(v)
	return out, nil
}

func applyWrap(env *core.Envelope, key string) *core.Envelope {
	out := env.Clone()
	out.Body = map[string]any{key: env.Body}
	out.ContentType = core.ContentObject
	return out
}

func applyMap(env *core.Envelope, table map[string]any) *core.Envelope {
	out := env.Clone()
	if s, ok := env.Body.(string); ok {
		if mapped, ok := table[s]; ok {
			out.Body = mapped
			out.ContentType = bodyContentType(mapped)
			return out
		}
	}
	return out
}

func applyTemplate(env *core.Envelope, source string) (*core.Envelope, error) {
	tmpl, err := template.New("transform").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("template: parse: %w", err)
	}

	var data any
	if obj, ok := env.AsObject(); ok {
		data = obj
	} else {
		data = map[string]any{"value": env.Body}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("template: render: %w", err)
	}

	out := env.Clone()
	out.Body = buf.String()
	out.ContentType = core.ContentRawText
	return out, nil
}

func applyParseJSON(env *core.Envelope) *core.Envelope {
	s, ok := env.AsText()
	if !ok {
		return env
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		out := env.Clone()
		out.WithMeta("parse_json_warning", err.Error())
		return out
	}
	out := env.Clone()
	out.Body = parsed
	out.ContentType = bodyContentType(parsed)
	return out
}

func bodyContentType(v any) core.ContentType {
	switch v.(type) {
	case string:
		return core.ContentRawText
	case map[string]any, []any:
		return core.ContentObject
	default:
		return core.ContentObject
	}
}

// FromDef converts an arrow's declared transform_rules definition into an
// executable Rule.
func FromDef(d diagram.TransformDef) (Rule, error) {
	r := Rule{Kind: Kind(d.Kind)}
	switch r.Kind {
	case KindExtract:
		field, _ := d.Args["field"].(string)
		r.Field = field
	case KindWrap:
		key, _ := d.Args["key"].(string)
		r.Key = key
	case KindMap:
		table, _ := d.Args["table"].(map[string]any)
		r.Table = table
	case KindTemplate:
		source, _ := d.Args["source"].(string)
		r.Source = source
	case KindParseJSON, KindDefault, "":
		// no args
	default:
		return Rule{}, fmt.Errorf("transform: unknown rule kind %q", d.Kind)
	}
	return r, nil
}

// Coerce applies the declared content-type coercion for an arrow before any
// transform rules run.
func Coerce(env *core.Envelope, target core.ContentType) *core.Envelope {
	if env == nil || target == "" || env.ContentType == target {
		return env
	}
	out := env.Clone()
	switch target {
	case core.ContentRawText:
		if s, ok := env.AsText(); ok {
			out.Body = s
		} else {
			data, err := json.Marshal(env.Body)
			if err == nil {
				out.Body = string(data)
			}
		}
	case core.ContentObject:
		if _, ok := env.AsObject(); !ok {
			if s, ok := env.AsText(); ok {
				var parsed any
				if err := json.Unmarshal([]byte(s), &parsed); err == nil {
					out.Body = parsed
				}
			}
		}
	}
	out.ContentType = target
	return out
}
