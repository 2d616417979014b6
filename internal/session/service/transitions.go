package service

import (
	"twentymin-coach/backend/internal/apperrors"
	"twentymin-coach/backend/internal/session/domain"
)

// transitions is the closed set of legal status edges. Terminal statuses have
// no outgoing edges.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusRequested:  {domain.StatusAccepted, domain.StatusCancelled},
	domain.StatusAccepted:   {domain.StatusInProgress, domain.StatusCancelled},
	domain.StatusInProgress: {domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusCompleted:  nil,
	domain.StatusCancelled:  nil,
}

// CanTransition reports whether the from→to edge is legal.
func CanTransition(from, to domain.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal targets from the given status. Terminal
// statuses return nil.
func NextStatuses(from domain.Status) []domain.Status {
	next := transitions[from]
	if next == nil {
		return nil
	}
	out := make([]domain.Status, len(next))
	copy(out, next)
	return out
}

// checkTransition returns INVALID_TRANSITION unless the from→to edge is legal.
func checkTransition(from, to domain.Status) error {
	if !CanTransition(from, to) {
		return apperrors.InvalidTransition(string(from), string(to))
	}
	return nil
}
