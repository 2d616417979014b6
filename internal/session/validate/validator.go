package validate

import (
	"sync"
	"time"

	"twentymin-coach/backend/internal/apperrors"
	"twentymin-coach/backend/internal/session/domain"
)

// Validator applies an ordered field→rules registry plus cross-field business
// rules to a session. The registry is read-mostly: AddRule may extend it at
// runtime under the write lock while validations proceed under read locks.
type Validator struct {
	mu     sync.RWMutex
	order  []string
	fields map[string][]Rule
}

// NewSessionValidator returns a Validator with the default session rule set.
func NewSessionValidator() *Validator {
	v := &Validator{fields: make(map[string][]Rule)}
	v.register("id", Required{})
	v.register("userId", Required{}, StringLength{Min: 1, Max: 50})
	v.register("coachId", Required{}, StringLength{Min: 1, Max: 50})
	v.register("topic", Required{}, StringLength{Min: 5, Max: 100})
	v.register("description", StringLength{Max: 500})
	v.register("status", Required{}, OneOf{Allowed: statusNames()})
	v.register("rating", NumberRange{Min: 1, Max: 5})
	v.register("startTime", ValidTime{})
	v.register("endTime", ValidTime{})
	v.register("createdAt", Required{}, ValidTime{})
	v.register("updatedAt", Required{}, ValidTime{})
	return v
}

func statusNames() []string {
	out := make([]string, len(domain.Statuses))
	for i, s := range domain.Statuses {
		out[i] = string(s)
	}
	return out
}

// register installs rules for a field, preserving registration order.
func (v *Validator) register(field string, rules ...Rule) {
	if _, ok := v.fields[field]; !ok {
		v.order = append(v.order, field)
	}
	v.fields[field] = append(v.fields[field], rules...)
}

// AddRule appends rule to the field's rule list at runtime; existing rules are
// kept and still run first.
func (v *Validator) AddRule(field string, rule Rule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.register(field, rule)
}

// Rules returns a copy of the current rule list for field.
func (v *Validator) Rules(field string) []Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Rule, len(v.fields[field]))
	copy(out, v.fields[field])
	return out
}

// Validate runs every registered field's rules in order (the first failing
// rule aborts), then the cross-field business rules. Returns nil or a
// VALIDATION_ERROR.
func (v *Validator) Validate(s *domain.Session) error {
	v.mu.RLock()
	order := make([]string, len(v.order))
	copy(order, v.order)
	fields := make(map[string][]Rule, len(v.fields))
	for f, rules := range v.fields {
		fields[f] = rules
	}
	v.mu.RUnlock()

	for _, field := range order {
		value := fieldValue(s, field)
		for _, rule := range fields[field] {
			if err := rule.Validate(value, field); err != nil {
				return err
			}
		}
	}
	return v.validateBusinessRules(s)
}

// validateBusinessRules enforces the cross-field session invariants.
func (v *Validator) validateBusinessRules(s *domain.Session) error {
	if s.StartTime != nil && s.EndTime != nil {
		if !s.EndTime.After(*s.StartTime) {
			return apperrors.Validation("session end time must be after start time",
				map[string]any{"session_id": s.ID, "start_time": s.StartTime, "end_time": s.EndTime})
		}
		if d := s.Duration(); d > domain.SessionCeiling {
			return apperrors.Validation("session duration cannot exceed the ceiling",
				map[string]any{"session_id": s.ID, "duration": d.String(), "ceiling": domain.SessionCeiling.String()})
		}
	}
	if s.Rating != 0 && !s.IsCompleted() {
		return apperrors.Validation("only completed sessions can be rated",
			map[string]any{"session_id": s.ID, "status": string(s.Status), "rating": s.Rating})
	}
	if s.Status == domain.StatusCancelled && s.StartTime != nil {
		return apperrors.Validation("cancelled sessions cannot carry a start time",
			map[string]any{"session_id": s.ID})
	}
	return nil
}

// ValidateCreateRequest checks the creation inputs before any session exists:
// both parties present, topic within bounds, description within bounds.
func (v *Validator) ValidateCreateRequest(userID, coachID, topic, description string) error {
	if userID == "" || coachID == "" || topic == "" {
		return apperrors.Validation("userId, coachId and topic are required",
			map[string]any{"user_id": userID, "coach_id": coachID, "topic": topic})
	}
	if err := (StringLength{Min: 5, Max: 100}).Validate(topic, "topic"); err != nil {
		return err
	}
	if description != "" {
		if err := (StringLength{Max: 500}).Validate(description, "description"); err != nil {
			return err
		}
	}
	return nil
}

// fieldValue fetches the session's value for a registered field name.
// Absent optional values are returned as nil so non-Required rules skip them.
func fieldValue(s *domain.Session, field string) any {
	switch field {
	case "id":
		return s.ID
	case "userId":
		return s.UserID
	case "coachId":
		return s.CoachID
	case "topic":
		return s.Topic
	case "description":
		if s.Description == "" {
			return nil
		}
		return s.Description
	case "status":
		return string(s.Status)
	case "rating":
		if s.Rating == 0 {
			return nil
		}
		return s.Rating
	case "startTime":
		return optionalTime(s.StartTime)
	case "endTime":
		return optionalTime(s.EndTime)
	case "scheduledTime":
		return optionalTime(s.ScheduledTime)
	case "createdAt":
		return s.CreatedAt
	case "updatedAt":
		return s.UpdatedAt
	}
	return nil
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
