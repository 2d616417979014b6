// Package validate applies declarative per-field rules and cross-field
// business rules to a candidate session before it may be persisted or
// transitioned. Every violation surfaces a VALIDATION_ERROR carrying the
// field, the offending value, and the rule context.
package validate

import (
	"fmt"
	"time"

	"twentymin-coach/backend/internal/apperrors"
)

// Rule is a single validation check bound to a field. Validate returns nil,
// or a VALIDATION_ERROR describing the violation. Absent optional values are
// passed as nil; rules other than Required skip them.
type Rule interface {
	Validate(value any, field string) error
}

// Required fails on nil, empty strings, and zero times.
type Required struct{}

func (Required) Validate(value any, field string) error {
	missing := value == nil
	switch v := value.(type) {
	case string:
		missing = v == ""
	case time.Time:
		missing = v.IsZero()
	case *time.Time:
		missing = v == nil || v.IsZero()
	}
	if missing {
		return apperrors.Validation(fmt.Sprintf("%s is required", field),
			map[string]any{"field": field, "value": value, "rule": "required"})
	}
	return nil
}

// StringLength bounds the length of a string value. Min 0 means no lower
// bound; Max 0 means no upper bound.
type StringLength struct {
	Min, Max int
}

func (r StringLength) Validate(value any, field string) error {
	if value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return apperrors.Validation(fmt.Sprintf("%s must be a string", field),
			map[string]any{"field": field, "value": value, "rule": "string_length"})
	}
	if r.Min > 0 && len(s) < r.Min {
		return apperrors.Validation(fmt.Sprintf("%s must be at least %d characters", field, r.Min),
			map[string]any{"field": field, "value": s, "rule": "string_length", "min": r.Min, "length": len(s)})
	}
	if r.Max > 0 && len(s) > r.Max {
		return apperrors.Validation(fmt.Sprintf("%s must be at most %d characters", field, r.Max),
			map[string]any{"field": field, "value": s, "rule": "string_length", "max": r.Max, "length": len(s)})
	}
	return nil
}

// NumberRange bounds an integer value inclusively.
type NumberRange struct {
	Min, Max int
}

func (r NumberRange) Validate(value any, field string) error {
	if value == nil {
		return nil
	}
	n, ok := value.(int)
	if !ok {
		return apperrors.Validation(fmt.Sprintf("%s must be a number", field),
			map[string]any{"field": field, "value": value, "rule": "number_range"})
	}
	if n < r.Min || n > r.Max {
		return apperrors.Validation(fmt.Sprintf("%s must be between %d and %d", field, r.Min, r.Max),
			map[string]any{"field": field, "value": n, "rule": "number_range", "min": r.Min, "max": r.Max})
	}
	return nil
}

// OneOf restricts a string value to a closed set.
type OneOf struct {
	Allowed []string
}

func (r OneOf) Validate(value any, field string) error {
	if value == nil {
		return nil
	}
	s, _ := value.(string)
	for _, a := range r.Allowed {
		if s == a {
			return nil
		}
	}
	return apperrors.Validation(fmt.Sprintf("%s must be one of the allowed values", field),
		map[string]any{"field": field, "value": value, "rule": "one_of", "allowed": r.Allowed})
}

// ValidTime fails when a present time value is the zero time.
type ValidTime struct{}

func (ValidTime) Validate(value any, field string) error {
	t, ok := timeValue(value)
	if !ok {
		return nil
	}
	if t.IsZero() {
		return apperrors.Validation(fmt.Sprintf("%s must be a valid date", field),
			map[string]any{"field": field, "value": value, "rule": "valid_time"})
	}
	return nil
}

// FutureTime fails when a present time value is not after now. Now is
// overridable for tests and defaults to time.Now.
type FutureTime struct {
	Now func() time.Time
}

func (r FutureTime) Validate(value any, field string) error {
	t, ok := timeValue(value)
	if !ok {
		return nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if !t.After(now()) {
		return apperrors.Validation(fmt.Sprintf("%s must be a future date", field),
			map[string]any{"field": field, "value": t, "rule": "future_time"})
	}
	return nil
}

// timeValue extracts a present time from value. ok is false for nil values
// and non-time types.
func timeValue(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	}
	return time.Time{}, false
}
