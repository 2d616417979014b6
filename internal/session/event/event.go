// Package event defines the session event taxonomy and payload shape emitted
// by the lifecycle service and consumed by notification dispatchers.
package event

import (
	"time"

	"github.com/google/uuid"

	"twentymin-coach/backend/internal/session/domain"
	"twentymin-coach/backend/internal/session/wire"
)

// Session lifecycle events, one per legal transition.
const (
	// TypeSessionRequested records a user requesting a session.
	TypeSessionRequested = "session-requested"
	// TypeSessionAccepted records a coach accepting a request.
	TypeSessionAccepted = "session-accepted"
	// TypeSessionStarted records the start of the timed window.
	TypeSessionStarted = "session-started"
	// TypeSessionEnded records completion, with the elapsed duration.
	TypeSessionEnded = "session-ended"
	// TypeSessionCancelled records cancellation from any non-terminal status.
	TypeSessionCancelled = "session-cancelled"
)

// Coach statistics events.
const (
	// TypeCoachRatingUpdated records a new session rating feeding coach stats.
	TypeCoachRatingUpdated = "coach-rating-updated"
)

// Types lists every event type the lifecycle can publish, in emission order.
var Types = []string{
	TypeSessionRequested,
	TypeSessionAccepted,
	TypeSessionStarted,
	TypeSessionEnded,
	TypeSessionCancelled,
	TypeCoachRatingUpdated,
}

// Payload is the immutable notification body published on the bus and carried
// over the realtime channel. Timestamp is the ISO-8601 emission time; Session
// is the post-transition external representation.
type Payload struct {
	EventID         string        `json:"event_id"`
	Event           string        `json:"event"`
	Timestamp       string        `json:"timestamp"`
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	CoachID         string        `json:"coach_id"`
	Session         *wire.Session `json:"session"`
	DurationMinutes *int          `json:"duration_minutes,omitempty"`
	Rating          *int          `json:"rating,omitempty"`
	Reason          string        `json:"reason,omitempty"`
}

// New builds a Payload for eventType from the post-transition session.
func New(eventType string, s *domain.Session, at time.Time) Payload {
	return Payload{
		EventID:   uuid.New().String(),
		Event:     eventType,
		Timestamp: at.UTC().Format(time.RFC3339),
		SessionID: s.ID,
		UserID:    s.UserID,
		CoachID:   s.CoachID,
		Session:   wire.ToWire(s),
	}
}

// WithDuration attaches the elapsed session minutes (session-ended).
func (p Payload) WithDuration(minutes int) Payload {
	p.DurationMinutes = &minutes
	return p
}

// WithRating attaches the submitted rating (coach-rating-updated).
func (p Payload) WithRating(rating int) Payload {
	p.Rating = &rating
	return p
}

// WithReason attaches the cancellation reason (session-cancelled).
func (p Payload) WithReason(reason string) Payload {
	p.Reason = reason
	return p
}
