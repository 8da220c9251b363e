package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgate/booking-engine/internal/domain"
)

// ReclaimJob is the durable deferred timer for a pending booking. The
// worker's periodic scan is the clock, so a crash between arming and firing
// loses nothing.
type ReclaimJob struct {
	BookingID uuid.UUID
	FireAt    time.Time
	Attempts  int
}

func (r *Repository) ScheduleReclaim(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, fireAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reclaim_jobs (booking_id, fire_at, status)
		VALUES ($1, $2, 'SCHEDULED')
		ON CONFLICT (booking_id) DO NOTHING
	`, bookingID, fireAt)
	return err
}

func (r *Repository) DueReclaimJobs(ctx context.Context, now time.Time, limit int) ([]ReclaimJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT booking_id, fire_at, attempts
		FROM reclaim_jobs WHERE status = 'SCHEDULED' AND fire_at <= $1
		ORDER BY fire_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ReclaimJob
	for rows.Next() {
		var j ReclaimJob
		if err := rows.Scan(&j.BookingID, &j.FireAt, &j.Attempts); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *Repository) markReclaimDone(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE reclaim_jobs SET status = 'DONE' WHERE booking_id = $1
	`, bookingID)
	return err
}

// Reclaim fires the job: a still-pending booking expires and its units go
// back to free; a booking that reached paid or cancelled in the meantime is
// left alone. Either way the job is retired. Returns whether the booking
// was actually expired.
func (r *Repository) Reclaim(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	reclaimed := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var b domain.Booking
		row := tx.QueryRow(ctx, `
			UPDATE bookings SET status = 'EXPIRED'
			WHERE id = $1 AND status = 'PENDING'
			RETURNING id, showing_id, units
		`, bookingID)
		scanErr := row.Scan(&b.ID, &b.Showing.ID, &b.Units)
		if scanErr == pgx.ErrNoRows {
			return r.markReclaimDone(ctx, tx, bookingID)
		}
		if scanErr != nil {
			return scanErr
		}
		reclaimed = true
		if err := r.ReleaseUnits(ctx, tx, b.Showing.ID, b.Units, b.ID); err != nil {
			return err
		}
		if err := r.markReclaimDone(ctx, tx, bookingID); err != nil {
			return err
		}
		return r.insertBookingEvent(ctx, tx, b.ID, "booking.expired", map[string]interface{}{
			"booking_id": b.ID,
			"units":      b.Units,
		})
	})
	return reclaimed, err
}

// MarkReclaimAttempt bumps the attempt counter for backoff bookkeeping.
func (r *Repository) MarkReclaimAttempt(ctx context.Context, bookingID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reclaim_jobs SET attempts = attempts + 1 WHERE booking_id = $1
	`, bookingID)
	return err
}
