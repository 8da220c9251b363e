package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/showgate/booking-engine/internal/domain"
	"github.com/showgate/booking-engine/internal/observability"
)

// MaxUnitsPerBooking caps a single reservation.
const MaxUnitsPerBooking = 5

type Config struct {
	ReclaimDelay time.Duration
	RefundRate   float64
}

type Service struct {
	store    Store
	catalog  Catalog
	checkout Checkout
	locks    UnitLocker
	audit    Auditor
	logger   observability.Logger
	cfg      Config
	now      func() time.Time
}

// NewService wires the engine. locks and audit may be nil; both are
// best-effort layers around the store.
func NewService(store Store, catalog Catalog, checkout Checkout, locks UnitLocker, audit Auditor, logger observability.Logger, cfg Config) *Service {
	return &Service{
		store:    store,
		catalog:  catalog,
		checkout: checkout,
		locks:    locks,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Reserve validates the request, claims the units, writes the pending
// booking with its reclaim job, and opens a checkout session. A session
// failure unwinds the hold so the caller is never left with a pending
// booking and no way to pay for it.
//
// amountOverride replaces the computed price for non-seat products whose
// pricing lives outside the capacity model.
func (s *Service) Reserve(ctx context.Context, userID uuid.UUID, ref domain.ShowingRef, unitIDs []string, amountOverride *float64) (domain.Booking, string, error) {
	if len(unitIDs) == 0 || len(unitIDs) > MaxUnitsPerBooking {
		observability.ReservationsTotal.WithLabelValues("rejected").Inc()
		return domain.Booking{}, "", domain.ErrTooManyUnits
	}
	seen := make(map[string]bool, len(unitIDs))
	for _, u := range unitIDs {
		if seen[u] {
			observability.ReservationsTotal.WithLabelValues("rejected").Inc()
			return domain.Booking{}, "", domain.ErrDuplicateUnit
		}
		seen[u] = true
	}
	if !ref.Kind.Valid() {
		observability.ReservationsTotal.WithLabelValues("rejected").Inc()
		return domain.Booking{}, "", domain.ErrInvalidShowing
	}

	showing, err := s.catalog.GetShowing(ctx, ref)
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("rejected").Inc()
		return domain.Booking{}, "", err
	}
	if showing.Started(s.now()) {
		observability.ReservationsTotal.WithLabelValues("rejected").Inc()
		return domain.Booking{}, "", domain.ErrShowingExpired
	}

	amount := 0.0
	for _, u := range unitIDs {
		if !showing.HasUnit(u) {
			observability.ReservationsTotal.WithLabelValues("rejected").Inc()
			return domain.Booking{}, "", domain.ErrUnknownUnit
		}
		amount += showing.PriceFor(u)
	}
	if amountOverride != nil {
		amount = *amountOverride
	}

	b := domain.NewBooking(userID, ref, unitIDs, amount)

	if err := s.lockUnits(ctx, b); err != nil {
		observability.ReservationsTotal.WithLabelValues("conflict").Inc()
		observability.UnitConflicts.Inc()
		return domain.Booking{}, "", err
	}

	if err := s.store.CreateReservation(ctx, b, s.now().Add(s.cfg.ReclaimDelay)); err != nil {
		s.unlockUnits(ctx, b)
		if errors.Is(err, domain.ErrUnitsUnavailable) {
			observability.ReservationsTotal.WithLabelValues("conflict").Inc()
			observability.UnitConflicts.Inc()
		} else {
			observability.ReservationsTotal.WithLabelValues("error").Inc()
		}
		return domain.Booking{}, "", err
	}

	url, sessionID, err := s.checkout.CreateSession(ctx, b, showing.Title)
	if err == nil {
		err = s.store.AttachCheckoutSession(ctx, b.ID, sessionID)
	}
	if err != nil {
		// No orphaned holds: the reservation dies with the session.
		if abortErr := s.store.AbortReservation(ctx, b); abortErr != nil {
			s.logger.WithError(abortErr).WithField("booking_id", b.ID).Error("failed to abort reservation")
		}
		s.unlockUnits(ctx, b)
		observability.ReservationsTotal.WithLabelValues("error").Inc()
		return domain.Booking{}, "", errors.Wrap(err, "open checkout")
	}
	b.CheckoutSession = sessionID

	observability.ReservationsTotal.WithLabelValues("ok").Inc()
	s.auditBooking(ctx, "booking.created", b)
	return b, url, nil
}

func (s *Service) lockUnits(ctx context.Context, b domain.Booking) error {
	if s.locks == nil {
		return nil
	}
	for i, u := range b.Units {
		ok, err := s.locks.LockUnit(ctx, b.Showing.ID.String(), u, b.ID.String(), s.cfg.ReclaimDelay)
		if err != nil {
			return err
		}
		if !ok {
			for _, held := range b.Units[:i] {
				if uerr := s.locks.UnlockUnit(ctx, b.Showing.ID.String(), held, b.ID.String()); uerr != nil {
					s.logger.WithError(uerr).Warn("failed to unlock unit")
				}
			}
			return domain.ErrUnitsUnavailable
		}
	}
	return nil
}

func (s *Service) unlockUnits(ctx context.Context, b domain.Booking) {
	if s.locks == nil {
		return
	}
	for _, u := range b.Units {
		if err := s.locks.UnlockUnit(ctx, b.Showing.ID.String(), u, b.ID.String()); err != nil {
			s.logger.WithError(err).Warn("failed to unlock unit")
		}
	}
}

// ConfirmPayment handles the processor's payment-succeeded callback.
// Redelivered callbacks for an already-paid booking are no-ops; a callback
// for a reclaimed booking is surfaced for manual reconciliation.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	token, err := domain.NewRedemptionToken()
	if err != nil {
		return domain.Booking{}, err
	}

	b, alreadyPaid, err := s.store.ConfirmPayment(ctx, bookingID, token)
	if errors.Is(err, domain.ErrConfirmationTooLate) {
		s.logger.WithField("booking_id", bookingID).
			Error("payment confirmed after reclamation, refund to payer required")
		return domain.Booking{}, err
	}
	if err != nil {
		return domain.Booking{}, err
	}
	if alreadyPaid {
		observability.WebhookReplays.Inc()
		return b, nil
	}

	s.auditBooking(ctx, "booking.paid", b)
	return b, nil
}

// Cancel reverses a paid, unredeemed booking owned by the caller: units
// back to free, partial refund computed from the configured rate and sent
// to the processor.
func (s *Service) Cancel(ctx context.Context, bookingID, userID uuid.UUID) (domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.UserID != userID {
		return domain.Booking{}, domain.ErrNotOwner
	}
	if !b.Cancellable() {
		return domain.Booking{}, &domain.NotCancellableError{Status: b.Status, Redeemed: b.Redeemed}
	}

	refund := domain.Refund(b.Amount, s.cfg.RefundRate)
	at := s.now()
	ok, err := s.store.CancelPaid(ctx, b, refund, at)
	if err != nil {
		return domain.Booking{}, err
	}
	if !ok {
		// Lost a race with redemption or reclamation; report the state
		// that actually won.
		current, getErr := s.store.GetBooking(ctx, bookingID)
		if getErr != nil {
			return domain.Booking{}, getErr
		}
		return domain.Booking{}, &domain.NotCancellableError{Status: current.Status, Redeemed: current.Redeemed}
	}

	// The claim rows are released inside CancelPaid; drop the redis locks
	// too so the units are resellable immediately, not at lock expiry.
	s.unlockUnits(ctx, b)

	if b.CheckoutSession != "" {
		if err := s.checkout.IssueRefund(ctx, b.CheckoutSession, refund); err != nil {
			// The cancellation stands; the refund is retried out of band.
			s.logger.WithError(err).WithField("booking_id", b.ID).
				Error("refund issuance failed, manual follow-up required")
		}
	}

	b.Status = domain.StatusCancelled
	b.RefundAmount = &refund
	b.CancelledAt = &at
	s.auditBooking(ctx, "booking.cancelled", b)
	return b, nil
}

// Redeem consumes an entry token exactly once and returns what the door
// staff need to see. Terminal-state failures carry the prior redemption's
// timestamp and summary.
func (s *Service) Redeem(ctx context.Context, token string) (domain.RedemptionSummary, error) {
	now := s.now()
	b, err := s.store.Redeem(ctx, token, now)
	if err != nil {
		var already *domain.AlreadyRedeemedError
		if errors.As(err, &already) {
			s.enrichSummary(ctx, &already.Summary)
			observability.RedemptionsTotal.WithLabelValues("already_redeemed").Inc()
			return domain.RedemptionSummary{}, already
		}
		observability.RedemptionsTotal.WithLabelValues("rejected").Inc()
		return domain.RedemptionSummary{}, err
	}

	summary := domain.RedemptionSummary{
		BookingID:  b.ID,
		UserID:     b.UserID,
		Kind:       b.Showing.Kind,
		ShowingID:  b.Showing.ID,
		Units:      b.Units,
		Amount:     b.Amount,
		RedeemedAt: now,
	}
	s.enrichSummary(ctx, &summary)
	observability.RedemptionsTotal.WithLabelValues("ok").Inc()
	s.auditBooking(ctx, "booking.redeemed", b)
	return summary, nil
}

func (s *Service) enrichSummary(ctx context.Context, summary *domain.RedemptionSummary) {
	showing, err := s.catalog.GetShowing(ctx, domain.ShowingRef{Kind: summary.Kind, ID: summary.ShowingID})
	if err != nil {
		s.logger.WithError(err).Debug("catalog lookup for redemption summary failed")
		return
	}
	summary.Title = showing.Title
	summary.Venue = showing.Venue
}

func (s *Service) Get(ctx context.Context, bookingID, userID uuid.UUID) (domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.UserID != userID {
		return domain.Booking{}, domain.ErrNotOwner
	}
	return b, nil
}

func (s *Service) ListMine(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	return s.store.ListUserBookings(ctx, userID, 50)
}

func (s *Service) auditBooking(ctx context.Context, action string, b domain.Booking) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogBooking(ctx, action, b); err != nil {
		s.logger.WithError(err).Warn("audit write failed")
	}
}
