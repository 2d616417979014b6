package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"twentymin-coach/backend/internal/session/domain"
	"twentymin-coach/backend/internal/session/wire"
)

// MemoryStore is an in-memory Store for local development and tests. It
// assigns ids and timestamps the way the remote API does.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

// Create stores a copy of s with a fresh id and timestamps.
func (m *MemoryStore) Create(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := s.Clone()
	stored.ID = uuid.NewString()
	stored.Status = domain.StatusRequested
	now := m.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.sessions[stored.ID] = stored
	return stored.Clone(), nil
}

// Get returns a copy of the session for id, or (nil, nil) when absent.
func (m *MemoryStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

// Patch applies the non-nil fields of p to the session for id.
func (m *MemoryStore) Patch(ctx context.Context, id string, p Patch) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.ClearTimes {
		s.StartTime = nil
		s.EndTime = nil
	}
	if p.StartTime != nil {
		t := *p.StartTime
		s.StartTime = &t
	}
	if p.EndTime != nil {
		t := *p.EndTime
		s.EndTime = &t
	}
	if p.Rating != nil {
		s.Rating = *p.Rating
	}
	if p.Feedback != nil {
		s.Feedback = *p.Feedback
	}
	if p.UserNotes != nil {
		s.UserNotes = *p.UserNotes
	}
	if p.CoachNotes != nil {
		s.CoachNotes = *p.CoachNotes
	}
	if p.CancellationReason != nil {
		s.CancellationReason = *p.CancellationReason
	}
	s.UpdatedAt = p.UpdatedAt
	return s.Clone(), nil
}

// ListByUser returns the user's sessions sorted newest first.
func (m *MemoryStore) ListByUser(ctx context.Context, userID string, q ListQuery) ([]*domain.Session, int, error) {
	return m.list(q, func(s *domain.Session) bool { return s.UserID == userID })
}

// ListByCoach returns the coach's sessions sorted newest first.
func (m *MemoryStore) ListByCoach(ctx context.Context, coachID string, q ListQuery) ([]*domain.Session, int, error) {
	return m.list(q, func(s *domain.Session) bool { return s.CoachID == coachID })
}

func (m *MemoryStore) list(q ListQuery, match func(*domain.Session) bool) ([]*domain.Session, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !match(s) {
			continue
		}
		if q.Status != "" && s.Status != q.Status {
			continue
		}
		matched = append(matched, s.Clone())
	}
	wire.SortByCreated(matched, false)

	total := len(matched)
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= total {
		return []*domain.Session{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}
