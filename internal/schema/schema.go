package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the FieldSchema union.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// FieldSchema describes a parameter or return shape. Exactly one family of
// fields is meaningful per Kind: Enum for primitives, Properties/Required for
// objects, Items for arrays.
type FieldSchema struct {
	Kind        Kind   `json:"kind" yaml:"kind"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Primitive
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`

	// Object. Properties keep declaration order; Required names a subset of
	// the property names.
	Properties []Property `json:"properties,omitempty" yaml:"-"`
	Required   []string   `json:"required,omitempty" yaml:"required,omitempty"`

	// Array
	Items *FieldSchema `json:"items,omitempty" yaml:"items,omitempty"`
}

// Property is one named entry of an object schema.
type Property struct {
	Name   string      `json:"name"`
	Schema FieldSchema `json:"schema"`
}

func (k Kind) primitive() bool {
	switch k {
	case KindString, KindInteger, KindNumber, KindBoolean:
		return true
	}
	return false
}

// Property returns the schema of a named object property.
func (s FieldSchema) Property(name string) (FieldSchema, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return FieldSchema{}, false
}

func (s FieldSchema) required(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Check verifies structural invariants: known kinds, Object.Required a subset
// of property names, arrays carry an item schema.
func (s FieldSchema) Check() error {
	return s.check("$")
}

func (s FieldSchema) check(path string) error {
	switch {
	case s.Kind.primitive():
		return nil
	case s.Kind == KindObject:
		for _, r := range s.Required {
			if _, ok := s.Property(r); !ok {
				return fmt.Errorf("%s: required name %q is not a property", path, r)
			}
		}
		for _, p := range s.Properties {
			if err := p.Schema.check(path + "." + p.Name); err != nil {
				return err
			}
		}
		return nil
	case s.Kind == KindArray:
		if s.Items == nil {
			return fmt.Errorf("%s: array schema has no item schema", path)
		}
		return s.Items.check(path + "[]")
	default:
		return &UnsupportedKindError{Path: path, Kind: string(s.Kind)}
	}
}

// UnmarshalYAML decodes a schema from a YAML mapping, walking the properties
// mapping node directly so declaration order survives into Properties.
func (s *FieldSchema) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema must be a mapping, got %s", nodeKind(node))
	}
	type plain struct {
		Kind        Kind         `yaml:"kind"`
		Description string       `yaml:"description"`
		Enum        []string     `yaml:"enum"`
		Required    []string     `yaml:"required"`
		Items       *FieldSchema `yaml:"items"`
	}
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	s.Kind = p.Kind
	s.Description = p.Description
	s.Enum = p.Enum
	s.Required = p.Required
	s.Items = p.Items
	s.Properties = nil
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "properties" {
			continue
		}
		props := node.Content[i+1]
		if props.Kind != yaml.MappingNode {
			return fmt.Errorf("properties must be a mapping, got %s", nodeKind(props))
		}
		for j := 0; j+1 < len(props.Content); j += 2 {
			var child FieldSchema
			if err := props.Content[j+1].Decode(&child); err != nil {
				return fmt.Errorf("property %s: %w", props.Content[j].Value, err)
			}
			s.Properties = append(s.Properties, Property{Name: props.Content[j].Value, Schema: child})
		}
	}
	return nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	default:
		return "node"
	}
}

// Object builds an object schema from ordered properties.
func Object(props []Property, required ...string) FieldSchema {
	return FieldSchema{Kind: KindObject, Properties: props, Required: required}
}

// Array builds an array schema over an item schema.
func Array(items FieldSchema) FieldSchema {
	return FieldSchema{Kind: KindArray, Items: &items}
}

// String builds a string schema with a description.
func String(description string) FieldSchema {
	return FieldSchema{Kind: KindString, Description: description}
}

// Choice builds a closed string choice over the given values, in order.
func Choice(description string, values ...string) FieldSchema {
	return FieldSchema{Kind: KindString, Description: description, Enum: values}
}

// Integer builds an integer schema with a description.
func Integer(description string) FieldSchema {
	return FieldSchema{Kind: KindInteger, Description: description}
}

// Number builds a decimal schema with a description.
func Number(description string) FieldSchema {
	return FieldSchema{Kind: KindNumber, Description: description}
}

// Boolean builds a boolean schema with a description.
func Boolean(description string) FieldSchema {
	return FieldSchema{Kind: KindBoolean, Description: description}
}
