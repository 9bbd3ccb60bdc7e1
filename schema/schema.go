// Package schema provides a JSON-shape validator implementing
// penguiflow.Validator, built on gjson/sjson path queries rather than a
// full JSON-Schema compiler: node payloads need "does this path exist and
// have this kind" checks, not general schema compilation.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Rule checks one gjson path against value, returning an error if the
// constraint fails.
type Rule struct {
	Path     string
	Required bool
	// Kind, if non-empty, constrains the JSON value kind at Path: one of
	// "string", "number", "bool", "object", "array".
	Kind string
}

// JSONShape validates that a candidate JSON document (given either as
// []byte, string, or any JSON-marshalable Go value) satisfies a fixed set of
// path rules. It implements penguiflow.Validator without importing
// penguiflow directly, keeping schema dependency-free of the core package.
type JSONShape struct {
	rules   []Rule
	setters map[string]any // path -> default value, applied via sjson when absent
}

// NewJSONShape builds a JSONShape from the given rules.
func NewJSONShape(rules ...Rule) *JSONShape {
	return &JSONShape{rules: rules, setters: make(map[string]any)}
}

// WithDefault registers a default value to inject (via sjson) at path when
// the incoming document omits it, before rule checking runs.
func (s *JSONShape) WithDefault(path string, value any) *JSONShape {
	s.setters[path] = value
	return s
}

// Validate implements the shape penguiflow.Validator expects:
// func(value any) (any, error). It accepts []byte, string, or any value
// json.Marshal can encode; it returns the (possibly defaulted) document as
// []byte.
func (s *JSONShape) Validate(value any) (any, error) {
	raw, err := toJSON(value)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	for path, def := range s.setters {
		if !gjson.GetBytes(raw, path).Exists() {
			raw, err = sjson.SetBytes(raw, path, def)
			if err != nil {
				return nil, fmt.Errorf("schema: applying default at %q: %w", path, err)
			}
		}
	}

	parsed := gjson.ParseBytes(raw)
	for _, rule := range s.rules {
		result := parsed.Get(rule.Path)
		if !result.Exists() {
			if rule.Required {
				return nil, fmt.Errorf("schema: missing required field %q", rule.Path)
			}
			continue
		}
		if rule.Kind != "" && kindOf(result) != rule.Kind {
			return nil, fmt.Errorf("schema: field %q: expected kind %q, got %q", rule.Path, rule.Kind, kindOf(result))
		}
	}
	return raw, nil
}

func kindOf(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "bool"
	case gjson.JSON:
		if r.IsArray() {
			return "array"
		}
		return "object"
	default:
		return "null"
	}
}

func toJSON(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
