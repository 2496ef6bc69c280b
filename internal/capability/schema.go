package capability

import (
	"fmt"
	"sort"
)

// FieldType names the accepted payload value types.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "boolean"
	FieldList   FieldType = "list"
	FieldMap    FieldType = "map"
)

// FieldSpec describes one payload field: its type and, for numbers, an
// optional inclusive value range.
type FieldSpec struct {
	Type FieldType `yaml:"type" json:"type"`
	Min  *float64  `yaml:"min,omitempty" json:"min,omitempty"`
	Max  *float64  `yaml:"max,omitempty" json:"max,omitempty"`
}

// Schema is the payload descriptor for one capability. Required lists
// fields that must be present; Fields types every known field. Payload
// keys outside Fields are preserved but reported as unknown.
type Schema struct {
	Required []string             `yaml:"required" json:"required"`
	Fields   map[string]FieldSpec `yaml:"fields" json:"fields"`
}

// Validation is the outcome of checking a payload against a Schema.
// Violations are hard failures; UnknownFields are informational.
type Validation struct {
	Violations    []string `json:"violations,omitempty"`
	UnknownFields []string `json:"unknown_fields,omitempty"`
}

// Valid reports whether the payload passed all hard checks.
func (v Validation) Valid() bool { return len(v.Violations) == 0 }

// Validate checks payload against the schema. A nil schema accepts
// anything.
func (s *Schema) Validate(payload map[string]any) Validation {
	var out Validation
	if s == nil {
		return out
	}

	for _, name := range s.Required {
		if _, ok := payload[name]; !ok {
			out.Violations = append(out.Violations, fmt.Sprintf("missing required field %q", name))
		}
	}

	for name, value := range payload {
		spec, known := s.Fields[name]
		if !known {
			if len(s.Fields) > 0 {
				out.UnknownFields = append(out.UnknownFields, name)
			}
			continue
		}
		if msg := checkField(name, spec, value); msg != "" {
			out.Violations = append(out.Violations, msg)
		}
	}
	sort.Strings(out.UnknownFields)
	return out
}

func checkField(name string, spec FieldSpec, value any) string {
	switch spec.Type {
	case FieldString:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("field %q: expected string, got %T", name, value)
		}
	case FieldNumber:
		n, ok := asNumber(value)
		if !ok {
			return fmt.Sprintf("field %q: expected number, got %T", name, value)
		}
		if spec.Min != nil && n < *spec.Min {
			return fmt.Sprintf("field %q: value %v below minimum %v", name, n, *spec.Min)
		}
		if spec.Max != nil && n > *spec.Max {
			return fmt.Sprintf("field %q: value %v above maximum %v", name, n, *spec.Max)
		}
	case FieldBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("field %q: expected boolean, got %T", name, value)
		}
	case FieldList:
		if _, ok := value.([]any); !ok {
			return fmt.Sprintf("field %q: expected list, got %T", name, value)
		}
	case FieldMap:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Sprintf("field %q: expected map, got %T", name, value)
		}
	}
	return ""
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// AsNumber converts JSON-ish numeric values (float64, int variants) to
// float64. It is shared by policy evaluation, which reads the same
// payloads.
func AsNumber(value any) (float64, bool) { return asNumber(value) }
