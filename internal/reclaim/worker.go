package reclaim

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/showgate/booking-engine/internal/adapters/crdb"
	"github.com/showgate/booking-engine/internal/observability"
)

// Store is the durable job table plus the reclaim transition.
type Store interface {
	DueReclaimJobs(ctx context.Context, now time.Time, limit int) ([]crdb.ReclaimJob, error)
	Reclaim(ctx context.Context, bookingID uuid.UUID) (bool, error)
	MarkReclaimAttempt(ctx context.Context, bookingID uuid.UUID) error
}

// Worker releases the units of bookings that never reached paid. The
// periodic scan over the job table is the timer, so restarts lose nothing:
// overdue jobs fire on the first tick after startup.
type Worker struct {
	store      Store
	logger     observability.Logger
	batchSize  int
	maxRetries int
	backoff    func(attempt int) time.Duration
}

func NewWorker(store Store, logger observability.Logger) *Worker {
	return &Worker{
		store:      store,
		logger:     logger,
		batchSize:  100,
		maxRetries: 3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	// Immediate pass on startup covers jobs that came due while the
	// process was down.
	w.tick(ctx, time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.tick(ctx, now)
		}
	}
}

func (w *Worker) tick(ctx context.Context, now time.Time) {
	jobs, err := w.store.DueReclaimJobs(ctx, now, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Error("failed to scan reclaim jobs")
		return
	}
	for _, job := range jobs {
		if err := w.reclaimWithRetry(ctx, job.BookingID); err != nil {
			w.logger.WithError(err).WithField("booking_id", job.BookingID).
				Error("reclaim failed after retries, job stays scheduled")
		}
	}
}

// reclaimWithRetry never abandons a held unit silently: store errors back
// off and retry, and an exhausted job remains scheduled for the next tick.
func (w *Worker) reclaimWithRetry(ctx context.Context, bookingID uuid.UUID) error {
	var lastErr error
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		reclaimed, err := w.store.Reclaim(ctx, bookingID)
		if err == nil {
			if reclaimed {
				observability.ReclaimedBookings.Inc()
				w.logger.WithField("booking_id", bookingID).Info("booking expired, units released")
			}
			return nil
		}
		lastErr = err
		if markErr := w.store.MarkReclaimAttempt(ctx, bookingID); markErr != nil {
			w.logger.WithError(markErr).Warn("failed to record reclaim attempt")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff(attempt)):
		}
	}
	return errors.Wrapf(lastErr, "reclaim booking %s", bookingID)
}
