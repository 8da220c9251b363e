package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgate/booking-engine/internal/domain"
)

// CreateReservation holds the units, writes the pending booking, arms the
// durable reclaim job and records the booking.created event, all in one
// transaction. Either everything lands or nothing does.
func (r *Repository) CreateReservation(ctx context.Context, b domain.Booking, fireAt time.Time) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := r.TryHold(ctx, tx, b.Showing.ID, b.Units, b.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (id, user_id, showing_kind, showing_id, units, amount, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7)
		`, b.ID, b.UserID, b.Showing.Kind, b.Showing.ID, b.Units, b.Amount, b.CreatedAt)
		if err != nil {
			return err
		}
		if err := r.ScheduleReclaim(ctx, tx, b.ID, fireAt); err != nil {
			return err
		}
		return r.insertBookingEvent(ctx, tx, b.ID, "booking.created", map[string]interface{}{
			"booking_id": b.ID,
			"user_id":    b.UserID,
			"units":      b.Units,
			"amount":     b.Amount,
		})
	})
}

// AbortReservation unwinds a reservation whose checkout session could not
// be opened: units released, booking expired, reclaim job retired.
func (r *Repository) AbortReservation(ctx context.Context, b domain.Booking) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := r.ReleaseUnits(ctx, tx, b.Showing.ID, b.Units, b.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE bookings SET status = 'EXPIRED' WHERE id = $1 AND status = 'PENDING'
		`, b.ID)
		if err != nil {
			return err
		}
		return r.markReclaimDone(ctx, tx, b.ID)
	})
}

func (r *Repository) AttachCheckoutSession(ctx context.Context, bookingID uuid.UUID, sessionID string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE bookings SET checkout_session = $2 WHERE id = $1 AND status = 'PENDING'
	`, bookingID, sessionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ConfirmPayment is the pending->paid transition. The conditional update is
// the linearization point: exactly one of a late confirmation and a firing
// reclaim job wins. Returns alreadyPaid=true for redelivered callbacks.
func (r *Repository) ConfirmPayment(ctx context.Context, bookingID uuid.UUID, token string) (b domain.Booking, alreadyPaid bool, err error) {
	err = r.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE bookings SET status = 'PAID', redemption_token = $2
			WHERE id = $1 AND status = 'PENDING'
			RETURNING id, user_id, showing_kind, showing_id, units, amount
		`, bookingID, token)
		scanErr := row.Scan(&b.ID, &b.UserID, &b.Showing.Kind, &b.Showing.ID, &b.Units, &b.Amount)
		if scanErr == pgx.ErrNoRows {
			current, getErr := r.getBookingTx(ctx, tx, bookingID)
			if getErr != nil {
				return getErr
			}
			switch current.Status {
			case domain.StatusPaid:
				b = current
				alreadyPaid = true
				return nil
			default:
				return domain.ErrConfirmationTooLate
			}
		}
		if scanErr != nil {
			return scanErr
		}
		b.Status = domain.StatusPaid
		b.RedemptionToken = token

		if err := r.FinalizeUnits(ctx, tx, b.Showing.ID, b.Units, b.ID); err != nil {
			return err
		}
		if err := r.markReclaimDone(ctx, tx, b.ID); err != nil {
			return err
		}
		return r.insertBookingEvent(ctx, tx, b.ID, "booking.paid", map[string]interface{}{
			"booking_id": b.ID,
			"amount":     b.Amount,
		})
	})
	return b, alreadyPaid, err
}

// CancelPaid is the paid->cancelled transition for an unredeemed booking.
// Returns false when the conditional update finds the booking in another
// state, which callers map to a terminal-state error.
func (r *Repository) CancelPaid(ctx context.Context, b domain.Booking, refund float64, at time.Time) (bool, error) {
	cancelled := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE bookings SET status = 'CANCELLED', refund_amount = $2, cancelled_at = $3
			WHERE id = $1 AND status = 'PAID' AND NOT redeemed
		`, b.ID, refund, at)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return nil
		}
		cancelled = true
		if err := r.ReleaseUnits(ctx, tx, b.Showing.ID, b.Units, b.ID); err != nil {
			return err
		}
		return r.insertBookingEvent(ctx, tx, b.ID, "booking.cancelled", map[string]interface{}{
			"booking_id":    b.ID,
			"refund_amount": refund,
		})
	})
	return cancelled, err
}

// Redeem consumes a redemption token. The set-if-not-already-redeemed
// update is the single-use guarantee; losers of a concurrent double scan
// fall through to classification against the current row.
func (r *Repository) Redeem(ctx context.Context, token string, now time.Time) (domain.Booking, error) {
	var b domain.Booking
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE bookings SET redeemed = true, redeemed_at = $2
			WHERE redemption_token = $1 AND status = 'PAID' AND NOT redeemed
			RETURNING id, user_id, showing_kind, showing_id, units, amount
		`, token, now)
		scanErr := row.Scan(&b.ID, &b.UserID, &b.Showing.Kind, &b.Showing.ID, &b.Units, &b.Amount)
		if scanErr == pgx.ErrNoRows {
			return r.classifyRedeemFailure(ctx, tx, token)
		}
		if scanErr != nil {
			return scanErr
		}
		b.Status = domain.StatusPaid
		b.Redeemed = true
		b.RedeemedAt = &now
		b.RedemptionToken = token
		return r.insertBookingEvent(ctx, tx, b.ID, "booking.redeemed", map[string]interface{}{
			"booking_id":  b.ID,
			"redeemed_at": now,
		})
	})
	return b, err
}

func (r *Repository) classifyRedeemFailure(ctx context.Context, tx pgx.Tx, token string) error {
	var b domain.Booking
	row := tx.QueryRow(ctx, `
		SELECT id, user_id, showing_kind, showing_id, units, amount, status, redeemed, redeemed_at, cancelled_at
		FROM bookings WHERE redemption_token = $1
	`, token)
	err := row.Scan(&b.ID, &b.UserID, &b.Showing.Kind, &b.Showing.ID, &b.Units, &b.Amount, &b.Status, &b.Redeemed, &b.RedeemedAt, &b.CancelledAt)
	if err == pgx.ErrNoRows {
		return domain.ErrInvalidToken
	}
	if err != nil {
		return err
	}
	switch {
	case b.Redeemed:
		return &domain.AlreadyRedeemedError{
			RedeemedAt: *b.RedeemedAt,
			Summary: domain.RedemptionSummary{
				BookingID:  b.ID,
				UserID:     b.UserID,
				Kind:       b.Showing.Kind,
				ShowingID:  b.Showing.ID,
				Units:      b.Units,
				Amount:     b.Amount,
				RedeemedAt: *b.RedeemedAt,
			},
		}
	case b.Status == domain.StatusCancelled:
		at := time.Time{}
		if b.CancelledAt != nil {
			at = *b.CancelledAt
		}
		return &domain.AlreadyCancelledError{CancelledAt: at}
	case b.Status != domain.StatusPaid:
		return domain.ErrPaymentPending
	default:
		return domain.ErrInvalidToken
	}
}

func (r *Repository) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	row := r.pool.QueryRow(ctx, bookingSelect+` WHERE id = $1`, bookingID)
	return scanBooking(row)
}

func (r *Repository) ListUserBookings(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, bookingSelect+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

const bookingSelect = `
	SELECT id, user_id, showing_kind, showing_id, units, amount, status,
	       COALESCE(checkout_session, ''), COALESCE(redemption_token, ''),
	       redeemed, redeemed_at, refund_amount, cancelled_at, created_at
	FROM bookings`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.Showing.Kind, &b.Showing.ID, &b.Units, &b.Amount, &b.Status,
		&b.CheckoutSession, &b.RedemptionToken, &b.Redeemed, &b.RedeemedAt, &b.RefundAmount, &b.CancelledAt, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return b, domain.ErrNotFound
	}
	return b, err
}

func (r *Repository) getBookingTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (domain.Booking, error) {
	row := tx.QueryRow(ctx, bookingSelect+` WHERE id = $1`, bookingID)
	return scanBooking(row)
}

func (r *Repository) insertBookingEvent(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, eventType string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.InsertOutbox(ctx, tx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "booking",
		AggregateID:   bookingID,
		EventType:     eventType,
		Payload:       data,
		DedupeKey:     uuid.New().String(),
	})
}
