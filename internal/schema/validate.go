package schema

import (
	"encoding/json"
	"fmt"
	"math"
)

// Violation is one pre-submission validation failure at a dotted path.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate walks schema and values together and returns every violation
// found: missing required values, enum values outside the closed set, and
// type-mismatched primitives. An empty result means values satisfy schema.
func Validate(s FieldSchema, values any) []Violation {
	return validate(s, values, "", false)
}

func validate(s FieldSchema, value any, path string, required bool) []Violation {
	if value == nil {
		if required {
			return []Violation{{Path: path, Message: "value is required"}}
		}
		return nil
	}
	switch {
	case s.Kind.primitive() && len(s.Enum) > 0:
		str, ok := value.(string)
		if !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected one of %v, got %T", s.Enum, value)}}
		}
		for _, e := range s.Enum {
			if e == str {
				return nil
			}
		}
		return []Violation{{Path: path, Message: fmt.Sprintf("%q is not one of %v", str, s.Enum)}}
	case s.Kind == KindString:
		str, ok := value.(string)
		if !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected string, got %T", value)}}
		}
		if required && str == "" {
			return []Violation{{Path: path, Message: "value is required"}}
		}
		return nil
	case s.Kind == KindInteger:
		if !isInteger(value) {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected integer, got %v", value)}}
		}
		return nil
	case s.Kind == KindNumber:
		if !isNumber(value) {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected number, got %v", value)}}
		}
		return nil
	case s.Kind == KindBoolean:
		if _, ok := value.(bool); !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected boolean, got %T", value)}}
		}
		return nil
	case s.Kind == KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected object, got %T", value)}}
		}
		var out []Violation
		for _, p := range s.Properties {
			childPath := joinPath(path, p.Name)
			v, present := obj[p.Name]
			if !present || v == nil {
				if s.required(p.Name) {
					out = append(out, Violation{Path: childPath, Message: "value is required"})
				}
				continue
			}
			out = append(out, validate(p.Schema, v, childPath, s.required(p.Name))...)
		}
		return out
	case s.Kind == KindArray:
		items, ok := value.([]any)
		if !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected array, got %T", value)}}
		}
		if s.Items == nil {
			return []Violation{{Path: path, Message: "array schema has no item schema"}}
		}
		var out []Violation
		for i, item := range items {
			out = append(out, validate(*s.Items, item, fmt.Sprintf("%s[%d]", path, i), false)...)
		}
		return out
	default:
		return []Violation{{Path: path, Message: fmt.Sprintf("unsupported schema kind %q", s.Kind)}}
	}
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	case float32:
		return float64(n) == math.Trunc(float64(n))
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64, json.Number:
		return true
	}
	return false
}
