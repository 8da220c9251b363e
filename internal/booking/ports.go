package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/showgate/booking-engine/internal/domain"
)

// Store is the booking ledger plus unit occupancy, implemented by the crdb
// adapter. Every method that changes state is a conditional update under
// the hood; callers never see partial effects.
type Store interface {
	CreateReservation(ctx context.Context, b domain.Booking, fireAt time.Time) error
	AbortReservation(ctx context.Context, b domain.Booking) error
	AttachCheckoutSession(ctx context.Context, bookingID uuid.UUID, sessionID string) error
	ConfirmPayment(ctx context.Context, bookingID uuid.UUID, token string) (domain.Booking, bool, error)
	CancelPaid(ctx context.Context, b domain.Booking, refund float64, at time.Time) (bool, error)
	Redeem(ctx context.Context, token string, now time.Time) (domain.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ListUserBookings(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Booking, error)
}

// Catalog is the read-only view of the catalog subsystem.
type Catalog interface {
	GetShowing(ctx context.Context, ref domain.ShowingRef) (domain.Showing, error)
}

// Checkout wraps the external payment processor's hosted checkout.
type Checkout interface {
	CreateSession(ctx context.Context, b domain.Booking, title string) (url, sessionID string, err error)
	IssueRefund(ctx context.Context, sessionID string, amount float64) error
}

// UnitLocker sheds hold contention before the database transaction.
type UnitLocker interface {
	LockUnit(ctx context.Context, showingID, unitID, bookingID string, ttl time.Duration) (bool, error)
	UnlockUnit(ctx context.Context, showingID, unitID, bookingID string) error
}

// Auditor records lifecycle actions out of band.
type Auditor interface {
	LogBooking(ctx context.Context, action string, b domain.Booking) error
}
