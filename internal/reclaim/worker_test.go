package reclaim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/showgate/booking-engine/internal/adapters/crdb"
	"github.com/showgate/booking-engine/internal/observability"
)

type fakeJobStore struct {
	mu        sync.Mutex
	jobs      []crdb.ReclaimJob
	reclaimed []uuid.UUID
	attempts  map[uuid.UUID]int
	failures  int // number of Reclaim calls that error before succeeding
}

func (f *fakeJobStore) DueReclaimJobs(ctx context.Context, now time.Time, limit int) ([]crdb.ReclaimJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []crdb.ReclaimJob
	for _, j := range f.jobs {
		if !j.FireAt.After(now) {
			due = append(due, j)
		}
	}
	return due, nil
}

func (f *fakeJobStore) Reclaim(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return false, errors.New("store unreachable")
	}
	f.reclaimed = append(f.reclaimed, bookingID)
	kept := f.jobs[:0]
	for _, j := range f.jobs {
		if j.BookingID != bookingID {
			kept = append(kept, j)
		}
	}
	f.jobs = kept
	return true, nil
}

func (f *fakeJobStore) MarkReclaimAttempt(ctx context.Context, bookingID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[uuid.UUID]int{}
	}
	f.attempts[bookingID]++
	return nil
}

func newTestWorker(store Store) *Worker {
	w := NewWorker(store, observability.NewLogger())
	w.backoff = func(int) time.Duration { return 0 }
	return w
}

func TestTickReclaimsDueJobs(t *testing.T) {
	due := uuid.New()
	later := uuid.New()
	store := &fakeJobStore{jobs: []crdb.ReclaimJob{
		{BookingID: due, FireAt: time.Now().Add(-time.Minute)},
		{BookingID: later, FireAt: time.Now().Add(time.Hour)},
	}}

	newTestWorker(store).tick(context.Background(), time.Now())

	if len(store.reclaimed) != 1 || store.reclaimed[0] != due {
		t.Errorf("reclaimed = %v, want only %s", store.reclaimed, due)
	}
}

func TestReclaimRetriesWithBackoff(t *testing.T) {
	id := uuid.New()
	store := &fakeJobStore{
		jobs:     []crdb.ReclaimJob{{BookingID: id, FireAt: time.Now().Add(-time.Minute)}},
		failures: 2,
	}

	newTestWorker(store).tick(context.Background(), time.Now())

	if len(store.reclaimed) != 1 {
		t.Fatalf("job not reclaimed after retries: %v", store.reclaimed)
	}
	if store.attempts[id] != 2 {
		t.Errorf("attempts = %d, want 2", store.attempts[id])
	}
}

func TestReclaimGivesUpButKeepsJob(t *testing.T) {
	id := uuid.New()
	store := &fakeJobStore{
		jobs:     []crdb.ReclaimJob{{BookingID: id, FireAt: time.Now().Add(-time.Minute)}},
		failures: 10,
	}

	newTestWorker(store).tick(context.Background(), time.Now())

	if len(store.reclaimed) != 0 {
		t.Error("should not have reclaimed")
	}
	// Job survives for the next tick rather than being silently dropped.
	jobs, _ := store.DueReclaimJobs(context.Background(), time.Now(), 10)
	if len(jobs) != 1 {
		t.Errorf("job table = %v, want the job kept", jobs)
	}
}
