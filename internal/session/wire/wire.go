// Package wire is the sole conversion boundary between the Session entity and
// its external representation: snake_case field names and RFC 3339 date-time
// strings, as exchanged with the remote session store and event consumers.
package wire

import (
	"sort"
	"time"

	"twentymin-coach/backend/internal/apperrors"
	"twentymin-coach/backend/internal/session/domain"
)

// Session is the external form of a session. Optional fields are pointers so
// absent and zero values stay distinguishable on the wire.
type Session struct {
	ID                 string  `json:"id"`
	UserID             string  `json:"user_id"`
	CoachID            string  `json:"coach_id"`
	Topic              string  `json:"topic"`
	Description        string  `json:"description,omitempty"`
	Status             string  `json:"status"`
	StartTime          *string `json:"start_time,omitempty"`
	EndTime            *string `json:"end_time,omitempty"`
	ScheduledTime      *string `json:"scheduled_time,omitempty"`
	Rating             *int    `json:"rating,omitempty"`
	Feedback           string  `json:"feedback,omitempty"`
	UserNotes          string  `json:"user_notes,omitempty"`
	CoachNotes         string  `json:"coach_notes,omitempty"`
	CancellationReason string  `json:"cancellation_reason,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// CreateRequest is the wire form for creating a session. Status is always
// "requested"; the store assigns the id and timestamps.
type CreateRequest struct {
	UserID        string  `json:"user_id"`
	CoachID       string  `json:"coach_id"`
	Topic         string  `json:"topic"`
	Description   string  `json:"description,omitempty"`
	ScheduledTime *string `json:"scheduled_time,omitempty"`
	Status        string  `json:"status"`
}

// UpdatePatch is the wire form for a partial session update. Nil fields are
// omitted and left untouched by the store; ClearTimes asks the store to erase
// both timed-window fields.
type UpdatePatch struct {
	Status             *string `json:"status,omitempty"`
	StartTime          *string `json:"start_time,omitempty"`
	EndTime            *string `json:"end_time,omitempty"`
	ClearTimes         bool    `json:"clear_times,omitempty"`
	Rating             *int    `json:"rating,omitempty"`
	Feedback           *string `json:"feedback,omitempty"`
	UserNotes          *string `json:"user_notes,omitempty"`
	CoachNotes         *string `json:"coach_notes,omitempty"`
	CancellationReason *string `json:"cancellation_reason,omitempty"`
	UpdatedAt          string  `json:"updated_at"`
}

// FromWire converts the external form to the entity. A malformed payload
// (bad timestamp, unknown status, missing required timestamps) surfaces a
// TRANSFORMATION_ERROR naming the offending field.
func FromWire(w *Session) (*domain.Session, error) {
	status := domain.Status(w.Status)
	if !status.IsValid() {
		return nil, apperrors.Transformation("invalid session payload", nil,
			map[string]any{"field": "status", "value": w.Status})
	}
	createdAt, err := parseRequiredTime("created_at", w.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseRequiredTime("updated_at", w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	startTime, err := parseOptionalTime("start_time", w.StartTime)
	if err != nil {
		return nil, err
	}
	endTime, err := parseOptionalTime("end_time", w.EndTime)
	if err != nil {
		return nil, err
	}
	scheduled, err := parseOptionalTime("scheduled_time", w.ScheduledTime)
	if err != nil {
		return nil, err
	}
	rating := 0
	if w.Rating != nil {
		rating = *w.Rating
	}
	return &domain.Session{
		ID:                 w.ID,
		UserID:             w.UserID,
		CoachID:            w.CoachID,
		Topic:              w.Topic,
		Description:        w.Description,
		Status:             status,
		StartTime:          startTime,
		EndTime:            endTime,
		ScheduledTime:      scheduled,
		Rating:             rating,
		Feedback:           w.Feedback,
		UserNotes:          w.UserNotes,
		CoachNotes:         w.CoachNotes,
		CancellationReason: w.CancellationReason,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}

// ToWire converts the entity to its external form.
func ToWire(s *domain.Session) *Session {
	w := &Session{
		ID:                 s.ID,
		UserID:             s.UserID,
		CoachID:            s.CoachID,
		Topic:              s.Topic,
		Description:        s.Description,
		Status:             string(s.Status),
		StartTime:          formatOptionalTime(s.StartTime),
		EndTime:            formatOptionalTime(s.EndTime),
		ScheduledTime:      formatOptionalTime(s.ScheduledTime),
		Feedback:           s.Feedback,
		UserNotes:          s.UserNotes,
		CoachNotes:         s.CoachNotes,
		CancellationReason: s.CancellationReason,
		CreatedAt:          s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if s.Rating != 0 {
		r := s.Rating
		w.Rating = &r
	}
	return w
}

// FromWireList converts a list of external sessions; the first malformed entry
// aborts with its TRANSFORMATION_ERROR.
func FromWireList(ws []*Session) ([]*domain.Session, error) {
	out := make([]*domain.Session, 0, len(ws))
	for _, w := range ws {
		s, err := FromWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// FilterByStatus returns the sessions whose status equals status.
func FilterByStatus(sessions []*domain.Session, status domain.Status) []*domain.Session {
	out := make([]*domain.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// SortByCreated sorts sessions by creation time, newest first unless ascending.
func SortByCreated(sessions []*domain.Session, ascending bool) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if ascending {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[j].CreatedAt.Before(sessions[i].CreatedAt)
	})
}

// GroupByStatus buckets sessions by their status.
func GroupByStatus(sessions []*domain.Session) map[domain.Status][]*domain.Session {
	out := make(map[domain.Status][]*domain.Session)
	for _, s := range sessions {
		out[s.Status] = append(out[s.Status], s)
	}
	return out
}

func parseRequiredTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, apperrors.Transformation("invalid session payload", err,
			map[string]any{"field": field, "value": value})
	}
	return t, nil
}

func parseOptionalTime(field string, value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return nil, apperrors.Transformation("invalid session payload", err,
			map[string]any{"field": field, "value": *value})
	}
	return &t, nil
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
