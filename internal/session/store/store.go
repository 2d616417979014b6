// Package store defines the session store collaborator: the remote API that
// is the source of truth for sessions, specified here at its interface
// boundary. Failures propagate as EXTERNAL_STORE_ERROR wrapping the cause.
package store

import (
	"context"
	"time"

	"twentymin-coach/backend/internal/session/domain"
)

// Patch is a partial session update. Nil fields are left untouched by the
// store; UpdatedAt is always written. ClearTimes removes StartTime and
// EndTime, since a nil pointer means "leave untouched", not "erase".
type Patch struct {
	Status             *domain.Status
	StartTime          *time.Time
	EndTime            *time.Time
	ClearTimes         bool
	Rating             *int
	Feedback           *string
	UserNotes          *string
	CoachNotes         *string
	CancellationReason *string
	UpdatedAt          time.Time
}

// ListQuery selects a page of sessions, optionally filtered by status.
// Page is 1-based; Limit 0 means the store default.
type ListQuery struct {
	Page   int
	Limit  int
	Status domain.Status
}

// Store is the abstract create/read/patch interface keyed by session id.
// Get returns (nil, nil) when no session exists for id.
type Store interface {
	Create(ctx context.Context, s *domain.Session) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	Patch(ctx context.Context, id string, p Patch) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string, q ListQuery) ([]*domain.Session, int, error)
	ListByCoach(ctx context.Context, coachID string, q ListQuery) ([]*domain.Session, int, error)
}
