package repository

import (
	"context"

	"dispatch/internal/domain"
)

// AuditRepository persists the immutable trip transition history for
// audit and debugging. The in-memory trip table stays authoritative;
// the archive is write-behind.
type AuditRepository interface {
	// RecordTransition appends one committed transition for a trip.
	RecordTransition(ctx context.Context, tripID string, tr domain.Transition) error

	// Transitions returns the archived history for a trip in commit order.
	Transitions(ctx context.Context, tripID string) ([]domain.Transition, error)
}
