package domain

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")

	// Reservation errors.
	ErrInvalidShowing   = errors.New("invalid showing")
	ErrTooManyUnits     = errors.New("too many units requested")
	ErrShowingExpired   = errors.New("showing already started")
	ErrUnknownUnit      = errors.New("unit not part of showing")
	ErrDuplicateUnit    = errors.New("duplicate unit in request")
	ErrUnitsUnavailable = errors.New("units unavailable")
	ErrStateMismatch    = errors.New("unit state mismatch")

	// Ledger errors.
	ErrNotOwner            = errors.New("not the booking owner")
	ErrConfirmationTooLate = errors.New("payment confirmed after reclamation")

	// Redemption errors.
	ErrInvalidToken   = errors.New("invalid redemption token")
	ErrPaymentPending = errors.New("booking not paid yet")
)

// NotCancellableError carries the state that blocked cancellation so the
// caller can explain it to the user.
type NotCancellableError struct {
	Status   BookingStatus
	Redeemed bool
}

func (e *NotCancellableError) Error() string {
	if e.Redeemed {
		return "booking already redeemed"
	}
	return fmt.Sprintf("booking not cancellable in status %s", e.Status)
}

// AlreadyRedeemedError is returned on a second scan of the same token; the
// original redemption and the booking summary go back to the scanner so
// staff can see who got in and when.
type AlreadyRedeemedError struct {
	RedeemedAt time.Time
	Summary    RedemptionSummary
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("token already redeemed at %s", e.RedeemedAt.Format(time.RFC3339))
}

// AlreadyCancelledError reports a redeem attempt against a cancelled booking.
type AlreadyCancelledError struct {
	CancelledAt time.Time
}

func (e *AlreadyCancelledError) Error() string {
	return fmt.Sprintf("booking cancelled at %s", e.CancelledAt.Format(time.RFC3339))
}
