package schema

import "fmt"

// WidgetKind names the input widget a UI should render for a field.
type WidgetKind string

const (
	WidgetText    WidgetKind = "text"
	WidgetInteger WidgetKind = "integer"
	WidgetDecimal WidgetKind = "decimal"
	WidgetToggle  WidgetKind = "toggle"
	WidgetChoice  WidgetKind = "choice"
	WidgetGroup   WidgetKind = "group"
	WidgetList    WidgetKind = "list"
)

// FormField is a renderer-agnostic descriptor derived from a FieldSchema.
// It is a disposable view: regenerated on every read, never mutated in place.
type FormField struct {
	Path        string      `json:"path"`
	Widget      WidgetKind  `json:"widget"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Options     []string    `json:"options,omitempty"`
	Children    []FormField `json:"children,omitempty"`
}

// UnsupportedKindError reports a schema node the form generator cannot
// render, with the dotted path of the offending field.
type UnsupportedKindError struct {
	Path string
	Kind string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported schema kind %q at %s", e.Kind, e.Path)
}

// Generate converts a FieldSchema into a FormField tree. Object properties
// keep their declaration order; an array yields a single template child at
// path "<prefix>[]" which the consumer re-indexes when materializing items.
func Generate(s FieldSchema, pathPrefix string) (FormField, error) {
	return generate(s, pathPrefix, false)
}

func generate(s FieldSchema, path string, required bool) (FormField, error) {
	f := FormField{Path: path, Description: s.Description, Required: required}
	switch {
	case s.Kind.primitive() && len(s.Enum) > 0:
		f.Widget = WidgetChoice
		f.Options = append([]string(nil), s.Enum...)
	case s.Kind == KindString:
		f.Widget = WidgetText
	case s.Kind == KindInteger:
		f.Widget = WidgetInteger
	case s.Kind == KindNumber:
		f.Widget = WidgetDecimal
	case s.Kind == KindBoolean:
		f.Widget = WidgetToggle
	case s.Kind == KindObject:
		f.Widget = WidgetGroup
		for _, p := range s.Properties {
			child, err := generate(p.Schema, joinPath(path, p.Name), s.required(p.Name))
			if err != nil {
				return FormField{}, err
			}
			f.Children = append(f.Children, child)
		}
	case s.Kind == KindArray:
		f.Widget = WidgetList
		if s.Items == nil {
			return FormField{}, &UnsupportedKindError{Path: path + "[]", Kind: "missing items"}
		}
		template, err := generate(*s.Items, path+"[]", false)
		if err != nil {
			return FormField{}, err
		}
		f.Children = []FormField{template}
	default:
		return FormField{}, &UnsupportedKindError{Path: path, Kind: string(s.Kind)}
	}
	return f, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
