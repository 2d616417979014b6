// Package domain holds the Session entity and its derived, side-effect-free
// queries. Sessions are mutated only through the lifecycle service; callers
// treat values as immutable and derive new copies for updates.
package domain

import (
	"fmt"
	"time"
)

// Status is the session lifecycle status. The set is closed; transitions
// between statuses are restricted to the lifecycle service's legal edges.
type Status string

const (
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every valid status, in lifecycle order.
var Statuses = []Status{StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled}

// IsValid reports whether s is a member of the closed status set.
func (s Status) IsValid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether a session in this status accepts no further
// status change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Session timing tunables, initialised from config at startup. SessionCeiling
// bounds the elapsed time of an in_progress session; EndWarning is the window
// before the ceiling in which IsAboutToEnd reports true.
var (
	SessionCeiling = 20 * time.Minute
	EndWarning     = 5 * time.Minute
)

// Session is a timed coaching interaction between a user and a coach.
// ID is assigned by the store and empty before creation. Optional timestamps
// are nil pointers; CreatedAt/UpdatedAt are always set on stored sessions.
type Session struct {
	ID                 string
	UserID             string
	CoachID            string
	Topic              string
	Description        string
	Status             Status
	StartTime          *time.Time
	EndTime            *time.Time
	ScheduledTime      *time.Time
	Rating             int // 0 when unrated; valid values are 1..5
	Feedback           string
	UserNotes          string
	CoachNotes         string
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActive reports whether the session is currently in progress.
func (s *Session) IsActive() bool { return s.Status == StatusInProgress }

// IsCompleted reports whether the session has completed.
func (s *Session) IsCompleted() bool { return s.Status == StatusCompleted }

// CanBeRated reports whether the session is completed and not yet rated.
func (s *Session) CanBeRated() bool { return s.IsCompleted() && s.Rating == 0 }

// CanBeStarted reports whether the session is accepted and has never started.
func (s *Session) CanBeStarted() bool { return s.Status == StatusAccepted && s.StartTime == nil }

// CanBeEnded reports whether the session is active with a start time and no
// completion recorded yet.
func (s *Session) CanBeEnded() bool { return s.IsActive() && s.StartTime != nil }

// Duration returns the elapsed time between StartTime and EndTime, or 0 if
// either is missing.
func (s *Session) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}

// DurationMinutes returns Duration rounded to whole minutes.
func (s *Session) DurationMinutes() int {
	return int(s.Duration().Round(time.Minute) / time.Minute)
}

// Remaining returns how much of the session ceiling is left at now, counted
// from StartTime. It returns 0 when the session is not active or the ceiling
// has been reached.
func (s *Session) Remaining(now time.Time) time.Duration {
	if !s.IsActive() || s.StartTime == nil {
		return 0
	}
	left := SessionCeiling - now.Sub(*s.StartTime)
	if left < 0 {
		return 0
	}
	return left
}

// RemainingMinutes returns Remaining rounded to whole minutes.
func (s *Session) RemainingMinutes(now time.Time) int {
	return int(s.Remaining(now).Round(time.Minute) / time.Minute)
}

// IsAboutToEnd reports whether the active session is inside the end-warning
// window: some whole minutes left, but no more than EndWarning's worth.
// Counted over rounded minutes, so 5m20s remaining already warns.
func (s *Session) IsAboutToEnd(now time.Time) bool {
	m := s.RemainingMinutes(now)
	return m > 0 && m <= int(EndWarning/time.Minute)
}

// HasExceededTimeLimit reports whether the active session has used up the
// ceiling.
func (s *Session) HasExceededTimeLimit(now time.Time) bool {
	return s.IsActive() && s.StartTime != nil && s.Remaining(now) <= 0
}

// FormattedDuration returns the elapsed duration for display, e.g. "18 min".
func (s *Session) FormattedDuration() string {
	if m := s.DurationMinutes(); m > 0 {
		return fmt.Sprintf("%d min", m)
	}
	return "Not started"
}

// FormattedRemaining returns the remaining time for display, e.g.
// "7 min remaining".
func (s *Session) FormattedRemaining(now time.Time) string {
	m := s.RemainingMinutes(now)
	if m <= 0 {
		if s.IsActive() {
			return "Time expired"
		}
		return "Not active"
	}
	return fmt.Sprintf("%d min remaining", m)
}

// BelongsToUser reports whether userID is the requesting user.
func (s *Session) BelongsToUser(userID string) bool { return s.UserID == userID }

// BelongsToCoach reports whether coachID is the session's coach.
func (s *Session) BelongsToCoach(coachID string) bool { return s.CoachID == coachID }

// IsParticipant reports whether id is either party of the session.
func (s *Session) IsParticipant(id string) bool {
	return s.BelongsToUser(id) || s.BelongsToCoach(id)
}

// Clone returns a deep copy; pointer timestamps are duplicated so mutating the
// copy never aliases the original.
func (s *Session) Clone() *Session {
	out := *s
	out.StartTime = cloneTime(s.StartTime)
	out.EndTime = cloneTime(s.EndTime)
	out.ScheduledTime = cloneTime(s.ScheduledTime)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
