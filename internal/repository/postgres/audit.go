package postgres

import (
	"context"
	"database/sql"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// AuditRepository is the PostgreSQL transition archive.
type AuditRepository struct {
	db *sql.DB
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordTransition implements repository.AuditRepository.
func (r *AuditRepository) RecordTransition(ctx context.Context, tripID string, tr domain.Transition) error {
	query := `
		INSERT INTO trip_transitions (trip_id, from_status, to_status, driver_id, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		tripID, string(tr.From), string(tr.To), tr.DriverID, tr.Reason, tr.At)
	return err
}

// Transitions implements repository.AuditRepository.
func (r *AuditRepository) Transitions(ctx context.Context, tripID string) ([]domain.Transition, error) {
	query := `
		SELECT from_status, to_status, driver_id, reason, occurred_at
		FROM trip_transitions
		WHERE trip_id = $1
		ORDER BY occurred_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []domain.Transition
	for rows.Next() {
		var tr domain.Transition
		var from, to string
		if err := rows.Scan(&from, &to, &tr.DriverID, &tr.Reason, &tr.At); err != nil {
			return nil, err
		}
		tr.From = domain.TripStatus(from)
		tr.To = domain.TripStatus(to)
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return nil, repository.ErrNotFound
	}
	return transitions, nil
}
