package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgate/booking-engine/internal/domain"
)

// TryHold claims every unit for the booking or none of them. The partial
// unique index on active claims makes free->held a single conditional
// insert; any unit already held or sold fails the whole transaction with
// ErrUnitsUnavailable.
func (r *Repository) TryHold(ctx context.Context, tx pgx.Tx, showingID uuid.UUID, unitIDs []string, bookingID uuid.UUID) error {
	for _, unit := range unitIDs {
		result, err := tx.Exec(ctx, `
			INSERT INTO unit_claims (showing_id, unit_id, booking_id, state)
			VALUES ($1, $2, $3, 'HELD')
			ON CONFLICT (showing_id, unit_id) WHERE state IN ('HELD', 'SOLD') DO NOTHING
		`, showingID, unit, bookingID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrUnitsUnavailable
		}
	}
	return nil
}

// ReleaseUnits returns the booking's claims to free. Releasing a unit that
// is already free, or held by another booking, is a no-op.
func (r *Repository) ReleaseUnits(ctx context.Context, tx pgx.Tx, showingID uuid.UUID, unitIDs []string, bookingID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE unit_claims SET state = 'RELEASED'
		WHERE showing_id = $1 AND unit_id = ANY($2) AND booking_id = $3 AND state IN ('HELD', 'SOLD')
	`, showingID, unitIDs, bookingID)
	return err
}

// FinalizeUnits moves the booking's held claims to sold. Every requested
// unit must currently be held by this booking.
func (r *Repository) FinalizeUnits(ctx context.Context, tx pgx.Tx, showingID uuid.UUID, unitIDs []string, bookingID uuid.UUID) error {
	result, err := tx.Exec(ctx, `
		UPDATE unit_claims SET state = 'SOLD'
		WHERE showing_id = $1 AND unit_id = ANY($2) AND booking_id = $3 AND state = 'HELD'
	`, showingID, unitIDs, bookingID)
	if err != nil {
		return err
	}
	if result.RowsAffected() != int64(len(unitIDs)) {
		return domain.ErrStateMismatch
	}
	return nil
}

// UnitState reports the occupancy of a single unit: free, HELD or SOLD.
func (r *Repository) UnitState(ctx context.Context, showingID uuid.UUID, unitID string) (string, error) {
	var state string
	err := r.pool.QueryRow(ctx, `
		SELECT state FROM unit_claims
		WHERE showing_id = $1 AND unit_id = $2 AND state IN ('HELD', 'SOLD')
	`, showingID, unitID).Scan(&state)
	if err == pgx.ErrNoRows {
		return "FREE", nil
	}
	if err != nil {
		return "", err
	}
	return state, nil
}
