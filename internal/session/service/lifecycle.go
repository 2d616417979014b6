// Package service implements the session lifecycle: the only place sessions
// change status. Every mutation checks authorization, validates input, holds
// the per-session lock, applies a legal transition, persists through the
// store, and publishes the matching event.
package service

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"twentymin-coach/backend/internal/apperrors"
	"twentymin-coach/backend/internal/auth"
	"twentymin-coach/backend/internal/auth/policy"
	"twentymin-coach/backend/internal/eventbus"
	"twentymin-coach/backend/internal/session/domain"
	"twentymin-coach/backend/internal/session/event"
	"twentymin-coach/backend/internal/session/store"
)

// Validator is the session validation surface the lifecycle needs.
type Validator interface {
	ValidateCreateRequest(userID, coachID, topic, description string) error
	Validate(s *domain.Session) error
}

// Quota answers the user's remaining session allowance.
type Quota interface {
	AvailableSessions(ctx context.Context, userID string) (int, error)
}

// CreateInput is the caller-supplied portion of a new session request.
type CreateInput struct {
	CoachID       string
	Topic         string
	Description   string
	ScheduledTime *time.Time
}

// Page selects a page of a session list.
type Page struct {
	Page   int
	Limit  int
	Status domain.Status
}

// SessionList is one page of sessions plus the total match count.
type SessionList struct {
	Sessions []*domain.Session
	Total    int
}

// Lifecycle drives sessions through their status graph.
type Lifecycle struct {
	store     store.Store
	validator Validator
	bus       *eventbus.Bus
	authz     policy.Authorizer
	quota     Quota
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLifecycle returns a Lifecycle with the given collaborators.
func NewLifecycle(st store.Store, v Validator, bus *eventbus.Bus, authz policy.Authorizer, quota Quota) *Lifecycle {
	return &Lifecycle{
		store:     st,
		validator: v,
		bus:       bus,
		authz:     authz,
		quota:     quota,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lock serialises mutations per session id. The returned func releases the lock.
func (l *Lifecycle) lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// CreateSession books a new session in requested status for the caller.
// The caller must have remaining allowance under their subscription.
func (l *Lifecycle) CreateSession(ctx context.Context, in CreateInput) (*domain.Session, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.authz.Authorize(ctx, policy.Request{
		Identity: id, Action: policy.ActionCreate, SubjectID: id.UserID,
	}); err != nil {
		return nil, err
	}
	if err := l.validator.ValidateCreateRequest(id.UserID, in.CoachID, in.Topic, in.Description); err != nil {
		return nil, err
	}
	available, err := l.quota.AvailableSessions(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if available <= 0 {
		return nil, apperrors.Validation("no session allowance remaining", map[string]any{
			"user_id": id.UserID, "available_sessions": available,
		})
	}
	created, err := l.store.Create(ctx, &domain.Session{
		UserID:        id.UserID,
		CoachID:       in.CoachID,
		Topic:         in.Topic,
		Description:   in.Description,
		Status:        domain.StatusRequested,
		ScheduledTime: in.ScheduledTime,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("session: created %s user=%s coach=%s", created.ID, created.UserID, created.CoachID)
	l.bus.Publish(ctx, event.TypeSessionRequested, event.New(event.TypeSessionRequested, created, l.now()))
	return created, nil
}

// AcceptSession moves a requested session to accepted. Only the assigned
// coach (or an admin) may accept.
func (l *Lifecycle) AcceptSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	unlock := l.lock(sessionID)
	defer unlock()

	s, err := l.authorizedSession(ctx, sessionID, policy.ActionAccept)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(s.Status, domain.StatusAccepted); err != nil {
		return nil, err
	}
	status := domain.StatusAccepted
	next := s.Clone()
	next.Status = status
	if err := l.validator.Validate(next); err != nil {
		return nil, err
	}
	updated, err := l.patch(ctx, sessionID, store.Patch{Status: &status})
	if err != nil {
		return nil, err
	}
	l.bus.Publish(ctx, event.TypeSessionAccepted, event.New(event.TypeSessionAccepted, updated, l.now()))
	return updated, nil
}

// RejectSession declines a requested session: it moves to cancelled with the
// coach's reason. Only the assigned coach (or an admin) may reject.
func (l *Lifecycle) RejectSession(ctx context.Context, sessionID, reason string) (*domain.Session, error) {
	unlock := l.lock(sessionID)
	defer unlock()

	s, err := l.authorizedSession(ctx, sessionID, policy.ActionReject)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.StatusRequested {
		return nil, apperrors.InvalidTransition(string(s.Status), string(domain.StatusCancelled))
	}
	return l.cancel(ctx, s, reason)
}

// CancelSession cancels a session from any non-terminal status. Either
// participant (or an admin) may cancel.
func (l *Lifecycle) CancelSession(ctx context.Context, sessionID, reason string) (*domain.Session, error) {
	unlock := l.lock(sessionID)
	defer unlock()

	s, err := l.authorizedSession(ctx, sessionID, policy.ActionCancel)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(s.Status, domain.StatusCancelled); err != nil {
		return nil, err
	}
	return l.cancel(ctx, s, reason)
}

// cancel moves s to cancelled. A cancelled session never carries a timed
// window, so the start and end times are erased along with the status change.
func (l *Lifecycle) cancel(ctx context.Context, s *domain.Session, reason string) (*domain.Session, error) {
	status := domain.StatusCancelled
	next := s.Clone()
	next.Status = status
	next.StartTime = nil
	next.EndTime = nil
	next.CancellationReason = reason
	if err := l.validator.Validate(next); err != nil {
		return nil, err
	}
	updated, err := l.patch(ctx, s.ID, store.Patch{
		Status:             &status,
		ClearTimes:         true,
		CancellationReason: &reason,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("session: cancelled %s reason=%q", s.ID, reason)
	payload := event.New(event.TypeSessionCancelled, updated, l.now()).WithReason(reason)
	l.bus.Publish(ctx, event.TypeSessionCancelled, payload)
	return updated, nil
}

// StartSession moves an accepted session to in_progress. The start time is
// now and the end time is pre-set to now plus the session ceiling, so the
// timed window is fixed the moment the session starts.
func (l *Lifecycle) StartSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	unlock := l.lock(sessionID)
	defer unlock()

	s, err := l.authorizedSession(ctx, sessionID, policy.ActionStart)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(s.Status, domain.StatusInProgress); err != nil {
		return nil, err
	}
	if !s.CanBeStarted() {
		return nil, apperrors.Validation("session already has a start time", map[string]any{
			"session_id": sessionID, "start_time": s.StartTime,
		})
	}
	status := domain.StatusInProgress
	start := l.now().UTC()
	end := start.Add(domain.SessionCeiling)
	next := s.Clone()
	next.Status = status
	next.StartTime = &start
	next.EndTime = &end
	if err := l.validator.Validate(next); err != nil {
		return nil, err
	}
	updated, err := l.patch(ctx, sessionID, store.Patch{
		Status:    &status,
		StartTime: &start,
		EndTime:   &end,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("session: started %s window=%s..%s", sessionID,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	l.bus.Publish(ctx, event.TypeSessionStarted, event.New(event.TypeSessionStarted, updated, l.now()))
	return updated, nil
}

// EndSession moves an in_progress session to completed, recording the actual
// end time and publishing the elapsed duration. A session ended after its
// fixed window has elapsed is recorded as ending at the window's close, so a
// completed session never exceeds the ceiling.
func (l *Lifecycle) EndSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	unlock := l.lock(sessionID)
	defer unlock()

	s, err := l.authorizedSession(ctx, sessionID, policy.ActionEnd)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(s.Status, domain.StatusCompleted); err != nil {
		return nil, err
	}
	status := domain.StatusCompleted
	end := l.now().UTC()
	if s.StartTime != nil {
		if limit := s.StartTime.Add(domain.SessionCeiling); end.After(limit) {
			end = limit
		}
	}
	next := s.Clone()
	next.Status = status
	next.EndTime = &end
	if err := l.validator.Validate(next); err != nil {
		return nil, err
	}
	updated, err := l.patch(ctx, sessionID, store.Patch{
		Status:  &status,
		EndTime: &end,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("session: ended %s duration=%dm", sessionID, updated.DurationMinutes())
	payload := event.New(event.TypeSessionEnded, updated, l.now()).WithDuration(updated.DurationMinutes())
	l.bus.Publish(ctx, event.TypeSessionEnded, payload)
	return updated, nil
}

// RateSession records the user's rating and feedback for a completed session
// and publishes the rating for coach statistics. A session is rated once.
func (l *Lifecycle) RateSession(ctx context.Context, sessionID string, rating int, feedback string) (*domain.Session, error) {
	unlock := l.lock(sessionID)
	defer unlock()

	s, err := l.authorizedSession(ctx, sessionID, policy.ActionRate)
	if err != nil {
		return nil, err
	}
	if !s.IsCompleted() {
		return nil, apperrors.Validation("only completed sessions can be rated", map[string]any{
			"session_id": sessionID, "status": string(s.Status),
		})
	}
	if s.Rating != 0 {
		return nil, apperrors.Validation("session already rated", map[string]any{
			"session_id": sessionID, "rating": s.Rating,
		})
	}
	if rating < 1 || rating > 5 {
		return nil, apperrors.Validation("rating must be between 1 and 5", map[string]any{
			"field": "rating", "value": rating,
		})
	}
	next := s.Clone()
	next.Rating = rating
	next.Feedback = feedback
	if err := l.validator.Validate(next); err != nil {
		return nil, err
	}
	updated, err := l.patch(ctx, sessionID, store.Patch{
		Rating:   &rating,
		Feedback: &feedback,
	})
	if err != nil {
		return nil, err
	}
	payload := event.New(event.TypeCoachRatingUpdated, updated, l.now()).WithRating(rating)
	l.bus.Publish(ctx, event.TypeCoachRatingUpdated, payload)
	return updated, nil
}

// GetSession returns the session if the caller is a participant or admin.
func (l *Lifecycle) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return l.authorizedSession(ctx, sessionID, policy.ActionView)
}

// ListUserSessions returns a page of the user's sessions, newest first.
func (l *Lifecycle) ListUserSessions(ctx context.Context, userID string, p Page) (*SessionList, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.authz.Authorize(ctx, policy.Request{
		Identity: id, Action: policy.ActionList, SubjectID: userID,
	}); err != nil {
		return nil, err
	}
	sessions, total, err := l.store.ListByUser(ctx, userID, store.ListQuery{
		Page: p.Page, Limit: p.Limit, Status: p.Status,
	})
	if err != nil {
		return nil, err
	}
	return &SessionList{Sessions: sessions, Total: total}, nil
}

// ListCoachSessions returns a page of the coach's sessions, newest first.
func (l *Lifecycle) ListCoachSessions(ctx context.Context, coachID string, p Page) (*SessionList, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.authz.Authorize(ctx, policy.Request{
		Identity: id, Action: policy.ActionList, SubjectID: coachID,
	}); err != nil {
		return nil, err
	}
	sessions, total, err := l.store.ListByCoach(ctx, coachID, store.ListQuery{
		Page: p.Page, Limit: p.Limit, Status: p.Status,
	})
	if err != nil {
		return nil, err
	}
	return &SessionList{Sessions: sessions, Total: total}, nil
}

// authorizedSession loads the session and checks the caller may perform
// action on it.
func (l *Lifecycle) authorizedSession(ctx context.Context, sessionID, action string) (*domain.Session, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	s, err := l.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := l.authz.Authorize(ctx, policy.Request{
		Identity: id, Action: action, Session: s,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Lifecycle) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := l.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperrors.Store("session not found", nil, map[string]any{
			"session_id": sessionID, "status": http.StatusNotFound,
		})
	}
	return s, nil
}

func (l *Lifecycle) patch(ctx context.Context, sessionID string, p store.Patch) (*domain.Session, error) {
	p.UpdatedAt = l.now().UTC()
	updated, err := l.store.Patch(ctx, sessionID, p)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperrors.Store("session not found", nil, map[string]any{
			"session_id": sessionID, "status": http.StatusNotFound,
		})
	}
	return updated, nil
}
