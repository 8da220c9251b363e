package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusPaid      BookingStatus = "PAID"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusExpired   BookingStatus = "EXPIRED"
)

// ShowingKind tags the product variant a booking points at. A booking always
// references exactly one showing through ShowingRef, never through
// per-variant fields.
type ShowingKind string

const (
	KindMovie     ShowingKind = "movie"
	KindSport     ShowingKind = "sport"
	KindNightlife ShowingKind = "nightlife"
)

func (k ShowingKind) Valid() bool {
	switch k {
	case KindMovie, KindSport, KindNightlife:
		return true
	}
	return false
}

type ShowingRef struct {
	Kind ShowingKind
	ID   uuid.UUID
}

type Booking struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Showing         ShowingRef
	Units           []string
	Amount          float64
	Status          BookingStatus
	CheckoutSession string
	RedemptionToken string
	Redeemed        bool
	RedeemedAt      *time.Time
	RefundAmount    *float64
	CancelledAt     *time.Time
	CreatedAt       time.Time
}

func NewBooking(userID uuid.UUID, showing ShowingRef, units []string, amount float64) Booking {
	return Booking{
		ID:        uuid.New(),
		UserID:    userID,
		Showing:   showing,
		Units:     append([]string(nil), units...),
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Cancellable reports whether the booking may still be cancelled by its
// owner. Only paid, unredeemed bookings qualify; a pending booking is
// reclaimed by the expiry worker instead.
func (b Booking) Cancellable() bool {
	return b.Status == StatusPaid && !b.Redeemed
}

// Refund computes the partial refund for a cancelled booking: the configured
// rate of the paid amount, floored to cents. The amount goes through integer
// cents first so a product like 8.20*0.5 cannot land a hair below the exact
// cent and floor one cent short.
func Refund(amount, rate float64) float64 {
	cents := math.Round(amount * 100)
	return math.Floor(cents*rate) / 100
}

// RedemptionSummary is what the door scanner sees after a redeem attempt,
// successful or already-redeemed.
type RedemptionSummary struct {
	BookingID  uuid.UUID   `json:"booking_id"`
	UserID     uuid.UUID   `json:"user_id"`
	Kind       ShowingKind `json:"kind"`
	ShowingID  uuid.UUID   `json:"showing_id"`
	Title      string      `json:"title"`
	Venue      string      `json:"venue"`
	Units      []string    `json:"units"`
	Amount     float64     `json:"amount"`
	RedeemedAt time.Time   `json:"redeemed_at"`
}
