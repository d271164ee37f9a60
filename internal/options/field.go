// Package options describes option and configuration fields and the
// declarative visibility predicates attached to them.
//
// Fields are plain data. A field's IsVisible expression is evaluated against
// the current values with Expr.Evaluate on whichever side of the process
// boundary needs it.
package options

import "fmt"

// FieldType selects the input control a host renders for a field.
type FieldType string

// Field types.
const (
	TypeText        FieldType = "textinput"
	TypeNumber      FieldType = "number"
	TypeCheckbox    FieldType = "checkbox"
	TypeDropdown    FieldType = "dropdown"
	TypeColor       FieldType = "colorpicker"
	TypeStaticText  FieldType = "static-text"
	TypeSecretInput FieldType = "secret-text"
)

// Choice is one dropdown entry.
type Choice struct {
	ID    any    `json:"id"`
	Label string `json:"label"`
}

// Field is one option of an action/feedback or one instance config field.
type Field struct {
	ID        string    `json:"id"`
	Type      FieldType `json:"type"`
	Label     string    `json:"label"`
	Tooltip   string    `json:"tooltip,omitempty"`
	Default   any       `json:"default,omitempty"`
	Width     int       `json:"width,omitempty"`
	Choices   []Choice  `json:"choices,omitempty"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Regex     string    `json:"regex,omitempty"`
	Required  bool      `json:"required,omitempty"`
	IsVisible *Expr     `json:"isVisible,omitempty"`
}

// Visible reports whether the field should be shown for values.
func (f Field) Visible(values map[string]any) bool {
	return f.IsVisible.Evaluate(values)
}

// VisibleFields returns the subset of fields visible for values, in order.
func VisibleFields(fields []Field, values map[string]any) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Visible(values) {
			out = append(out, f)
		}
	}
	return out
}

// Defaults builds a value map from each field's Default.
// Static text fields carry no value and are skipped.
func Defaults(fields []Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Type == TypeStaticText || f.Default == nil {
			continue
		}
		out[f.ID] = f.Default
	}
	return out
}

// ValidateFields checks ids are unique and non-empty and every visibility
// expression is well formed.
func ValidateFields(fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.ID == "" {
			return fmt.Errorf("options: field %d has no id", i)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("options: duplicate field id %q", f.ID)
		}
		seen[f.ID] = struct{}{}
		if err := f.IsVisible.Validate(); err != nil {
			return fmt.Errorf("options: field %q: %w", f.ID, err)
		}
	}
	return nil
}

// Float returns a pointer to v for Min/Max literals.
func Float(v float64) *float64 {
	return &v
}
