// Package domain contains core domain types for the intake portal.
package domain

import (
	"fmt"
	"strings"
)

// IntakeRecord is the flat applicant record collected across the wizard.
// Values are limited to string, bool, float64 and nil.
type IntakeRecord map[string]any

// NormalizeValue coerces v into one of the record's allowed value kinds.
// Numbers of any Go numeric type become float64. Nested objects and arrays
// are rejected.
func NormalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string, bool, float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// Clone returns an independent copy of the record.
func (r IntakeRecord) Clone() IntakeRecord {
	out := make(IntakeRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IsBlank reports whether the named field is missing, nil or a
// whitespace-only string.
func (r IntakeRecord) IsBlank(name string) bool {
	v, ok := r[name]
	if !ok || v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// String returns the named value as a string, or "" when it is not one.
func (r IntakeRecord) String(name string) string {
	if s, ok := r[name].(string); ok {
		return s
	}
	return ""
}

// Validate checks every value in the record has an allowed kind.
func (r IntakeRecord) Validate() error {
	for k, v := range r {
		if _, err := NormalizeValue(v); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}
