package crdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/showgate/booking-engine/internal/adapters/crdb"
	"github.com/showgate/booking-engine/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRepo(t *testing.T) (*crdb.Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, crdb.Schema); err != nil {
		t.Fatal(err)
	}

	return crdb.NewRepository(pool), pool
}

func newBooking(units ...string) domain.Booking {
	return domain.NewBooking(
		uuid.New(),
		domain.ShowingRef{Kind: domain.KindMovie, ID: uuid.New()},
		units,
		float64(len(units))*250,
	)
}

func TestUnitClaims(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()

	b := newBooking("A1", "A2")

	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.TryHold(ctx, tx, b.Showing.ID, b.Units, b.ID)
	})
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	// An overlapping request must not claim anything, including the
	// free unit it asked for.
	rival := newBooking("A2", "A3")
	rival.Showing = b.Showing
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.TryHold(ctx, tx, rival.Showing.ID, rival.Units, rival.ID)
	})
	if !errors.Is(err, domain.ErrUnitsUnavailable) {
		t.Fatalf("expected ErrUnitsUnavailable, got %v", err)
	}
	state, err := repo.UnitState(ctx, b.Showing.ID, "A3")
	if err != nil {
		t.Fatal(err)
	}
	if state != "FREE" {
		t.Errorf("A3 should stay free after failed hold, got %s", state)
	}

	// Release is idempotent and frees the unit for the next holder.
	for i := 0; i < 2; i++ {
		err = repo.WithTx(ctx, func(tx pgx.Tx) error {
			return repo.ReleaseUnits(ctx, tx, b.Showing.ID, b.Units, b.ID)
		})
		if err != nil {
			t.Fatalf("release %d failed: %v", i, err)
		}
	}
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.TryHold(ctx, tx, rival.Showing.ID, rival.Units, rival.ID)
	})
	if err != nil {
		t.Fatalf("hold after release failed: %v", err)
	}

	// Finalizing units the booking no longer holds must fail.
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.FinalizeUnits(ctx, tx, b.Showing.ID, b.Units, b.ID)
	})
	if !errors.Is(err, domain.ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}

	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.FinalizeUnits(ctx, tx, rival.Showing.ID, rival.Units, rival.ID)
	})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	state, _ = repo.UnitState(ctx, rival.Showing.ID, "A2")
	if state != "SOLD" {
		t.Errorf("expected SOLD, got %s", state)
	}
}

func TestConcurrentHoldsSingleWinner(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()
	showingID := uuid.New()

	const contenders = 8
	results := make(chan error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bookingID := uuid.New()
			results <- repo.WithTx(ctx, func(tx pgx.Tx) error {
				return repo.TryHold(ctx, tx, showingID, []string{"A1"}, bookingID)
			})
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrUnitsUnavailable),
			errors.Is(err, domain.ErrSerializationFailure):
		default:
			t.Errorf("unexpected hold error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	state, err := repo.UnitState(ctx, showingID, "A1")
	if err != nil {
		t.Fatal(err)
	}
	if state != "HELD" {
		t.Errorf("unit state = %s, want HELD", state)
	}
}

func TestBookingLifecycle(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()

	b := newBooking("B1", "B2")
	fireAt := time.Now().Add(30 * time.Minute)
	if err := repo.CreateReservation(ctx, b, fireAt); err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	if err := repo.AttachCheckoutSession(ctx, b.ID, "cs_test_123"); err != nil {
		t.Fatalf("attach session: %v", err)
	}

	token, err := domain.NewRedemptionToken()
	if err != nil {
		t.Fatal(err)
	}
	paid, alreadyPaid, err := repo.ConfirmPayment(ctx, b.ID, token)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if alreadyPaid {
		t.Error("first confirm reported as replay")
	}
	if paid.Status != domain.StatusPaid || paid.RedemptionToken != token {
		t.Errorf("unexpected booking after confirm: %+v", paid)
	}
	state, _ := repo.UnitState(ctx, b.Showing.ID, "B1")
	if state != "SOLD" {
		t.Errorf("expected SOLD after confirm, got %s", state)
	}

	// Redelivered confirmation keeps the original token.
	otherToken, _ := domain.NewRedemptionToken()
	replay, alreadyPaid, err := repo.ConfirmPayment(ctx, b.ID, otherToken)
	if err != nil {
		t.Fatalf("replay confirm: %v", err)
	}
	if !alreadyPaid {
		t.Error("replay not detected")
	}
	if replay.RedemptionToken != token {
		t.Errorf("replay changed token: %s", replay.RedemptionToken)
	}

	redeemed, err := repo.Redeem(ctx, token, time.Now())
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !redeemed.Redeemed || redeemed.RedeemedAt == nil {
		t.Errorf("booking not marked redeemed: %+v", redeemed)
	}

	_, err = repo.Redeem(ctx, token, time.Now())
	var already *domain.AlreadyRedeemedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyRedeemedError, got %v", err)
	}
	// The row stores microseconds; allow for the truncation.
	if d := already.RedeemedAt.Sub(*redeemed.RedeemedAt); d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("second scan reports different timestamp: %v vs %v", already.RedeemedAt, redeemed.RedeemedAt)
	}
	if already.Summary.BookingID != b.ID || len(already.Summary.Units) != 2 {
		t.Errorf("summary incomplete: %+v", already.Summary)
	}

	_, err = repo.Redeem(ctx, "no-such-token", time.Now())
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCancelPaidBooking(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()

	b := newBooking("C1")
	if err := repo.CreateReservation(ctx, b, time.Now().Add(30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	token, _ := domain.NewRedemptionToken()
	paid, _, err := repo.ConfirmPayment(ctx, b.ID, token)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	ok, err := repo.CancelPaid(ctx, paid, 125, now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ok {
		t.Fatal("cancel lost the race against nothing")
	}

	got, err := repo.GetBooking(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCancelled || got.RefundAmount == nil || *got.RefundAmount != 125 {
		t.Errorf("unexpected booking after cancel: %+v", got)
	}
	state, _ := repo.UnitState(ctx, b.Showing.ID, "C1")
	if state != "FREE" {
		t.Errorf("unit not released on cancel, state %s", state)
	}

	// Second cancel loses the conditional update.
	ok, err = repo.CancelPaid(ctx, paid, 125, now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("cancel applied twice")
	}

	// A cancelled token reports why it no longer admits.
	_, err = repo.Redeem(ctx, token, time.Now())
	var cancelled *domain.AlreadyCancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected AlreadyCancelledError, got %v", err)
	}
}

func TestReclaimFlow(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()

	b := newBooking("D1", "D2")
	if err := repo.CreateReservation(ctx, b, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	jobs, err := repo.DueReclaimJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].BookingID != b.ID {
		t.Fatalf("expected one due job for booking, got %+v", jobs)
	}

	reclaimed, err := repo.Reclaim(ctx, b.ID)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !reclaimed {
		t.Fatal("pending booking not reclaimed")
	}

	got, err := repo.GetBooking(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusExpired {
		t.Errorf("expected EXPIRED, got %s", got.Status)
	}
	state, _ := repo.UnitState(ctx, b.Showing.ID, "D1")
	if state != "FREE" {
		t.Errorf("unit not freed by reclaim, state %s", state)
	}

	jobs, err = repo.DueReclaimJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("job still due after reclaim: %+v", jobs)
	}

	// Reclaim of a non-pending booking is a no-op.
	reclaimed, err = repo.Reclaim(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed {
		t.Error("reclaim applied twice")
	}

	// Payment confirmation after reclamation must not resurrect the units.
	token, _ := domain.NewRedemptionToken()
	_, _, err = repo.ConfirmPayment(ctx, b.ID, token)
	if !errors.Is(err, domain.ErrConfirmationTooLate) {
		t.Fatalf("expected ErrConfirmationTooLate, got %v", err)
	}
}

func TestOutboxDrain(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()

	b := newBooking("E1")
	if err := repo.CreateReservation(ctx, b, time.Now().Add(30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	token, _ := domain.NewRedemptionToken()
	if _, _, err := repo.ConfirmPayment(ctx, b.ID, token); err != nil {
		t.Fatal(err)
	}

	records, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected created+paid events, got %d", len(records))
	}
	types := map[string]bool{}
	for _, rec := range records {
		types[rec.EventType] = true
	}
	if !types["booking.created"] || !types["booking.paid"] {
		t.Errorf("unexpected event types: %v", types)
	}

	for _, rec := range records {
		if err := repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	records, err = repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("outbox not drained: %+v", records)
	}
}
