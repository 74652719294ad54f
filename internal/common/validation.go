package common

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ViolationSeverity separates hard schema violations from advisory rule hits.
type ViolationSeverity string

const (
	ViolationError   ViolationSeverity = "error"
	ViolationWarning ViolationSeverity = "warning"
)

// Violation represents one failed rule on one field path.
type Violation struct {
	Path     string            `json:"path"`
	Rule     string            `json:"rule"`
	Message  string            `json:"message"`
	Severity ViolationSeverity `json:"severity"`
	Value    any               `json:"value,omitempty"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", v.Path, v.Value, v.Message)
}

// Validator collects violations across many fields.
type Validator struct {
	violations []Violation
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{violations: make([]Violation, 0)}
}

// Field validates a field and collects violations
func (v *Validator) Field(path string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if viol := rule(path, value); viol != nil {
			v.violations = append(v.violations, *viol)
		}
	}
	return v
}

// Add records a violation produced outside a rule.
func (v *Validator) Add(viol Violation) {
	v.violations = append(v.violations, viol)
}

// HasErrors reports whether any error-severity violation was recorded.
func (v *Validator) HasErrors() bool {
	for _, viol := range v.violations {
		if viol.Severity == ViolationError {
			return true
		}
	}
	return false
}

// Violations returns everything recorded so far.
func (v *Validator) Violations() []Violation {
	return v.violations
}

// Error returns a combined error for error-severity violations, or nil.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	var messages []string
	for _, viol := range v.violations {
		if viol.Severity == ViolationError {
			messages = append(messages, viol.Error())
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(messages, "; "))
}

// ValidationRule represents a single validation rule
type ValidationRule func(path string, value any) *Violation

// Required fails on nil, blank strings and empty collections.
func Required(path string, value any) *Violation {
	if isEmpty(value) {
		return &Violation{Path: path, Rule: "required", Message: "is required", Severity: ViolationError, Value: value}
	}
	return nil
}

// OfType checks the JSON kind of a non-null value: string, number, integer, boolean, array, object.
func OfType(kind string) ValidationRule {
	return func(path string, value any) *Violation {
		if value == nil {
			return nil
		}
		if got := JSONKind(value); got != kind && !(kind == "number" && got == "integer") {
			return &Violation{
				Path: path, Rule: "type", Severity: ViolationError, Value: value,
				Message: fmt.Sprintf("must be %s, got %s", kind, got),
			}
		}
		return nil
	}
}

// NonNegative warns on negative numbers.
func NonNegative(path string, value any) *Violation {
	if f, ok := AsFloat(value); ok && f < 0 {
		return &Violation{Path: path, Rule: "non_negative", Message: "is negative", Severity: ViolationWarning, Value: value}
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "January 2, 2006", "Jan 2, 2006", "2 January 2006", time.RFC3339}

// DateLike warns when a string does not parse as a date.
func DateLike(path string, value any) *Violation {
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return nil
		}
	}
	return &Violation{Path: path, Rule: "date", Message: "is not a recognizable date", Severity: ViolationWarning, Value: value}
}

// UnitInterval requires a number in [0,1].
func UnitInterval(path string, value any) *Violation {
	if value == nil {
		return nil
	}
	f, ok := AsFloat(value)
	if !ok || f < 0 || f > 1 || math.IsNaN(f) {
		return &Violation{Path: path, Rule: "unit_interval", Message: "must be within [0,1]", Severity: ViolationError, Value: value}
	}
	return nil
}

// JSONKind names the JSON type of a decoded value.
func JSONKind(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64:
		return "integer"
	case float32:
		return "number"
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return "integer"
		}
		return "number"
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// AsFloat converts decoded JSON numbers to float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
