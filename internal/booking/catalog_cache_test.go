package booking

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/showgate/booking-engine/internal/domain"
	"github.com/showgate/booking-engine/internal/observability"
)

// fakeShowingCache stores by showing id only, like a cache whose key does
// not discriminate; the catalog decorator must still honor the ref's kind.
type fakeShowingCache struct {
	byID map[uuid.UUID]domain.Showing
	sets int
}

func (f *fakeShowingCache) GetShowing(ctx context.Context, ref domain.ShowingRef) (*domain.Showing, error) {
	s, ok := f.byID[ref.ID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeShowingCache) SetShowing(ctx context.Context, s domain.Showing, ttl time.Duration) error {
	f.byID[s.ID] = s
	f.sets++
	return nil
}

func TestCachedCatalogHitsAndFills(t *testing.T) {
	showing := testShowing(domain.KindMovie, 300, time.Now().Add(time.Hour))
	catalog := &fakeCatalog{showings: map[uuid.UUID]domain.Showing{showing.ID: showing}}
	cache := &fakeShowingCache{byID: map[uuid.UUID]domain.Showing{}}
	cc := NewCachedCatalog(catalog, cache, time.Minute, observability.NewLogger())
	ref := domain.ShowingRef{Kind: domain.KindMovie, ID: showing.ID}

	for i := 0; i < 3; i++ {
		got, err := cc.GetShowing(context.Background(), ref)
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != showing.Title {
			t.Errorf("got %q, want %q", got.Title, showing.Title)
		}
	}
	if cache.sets != 1 {
		t.Errorf("cache filled %d times, want 1", cache.sets)
	}
}

func TestCachedCatalogRejectsWrongKind(t *testing.T) {
	showing := testShowing(domain.KindMovie, 300, time.Now().Add(time.Hour))
	catalog := &fakeCatalog{showings: map[uuid.UUID]domain.Showing{showing.ID: showing}}
	cache := &fakeShowingCache{byID: map[uuid.UUID]domain.Showing{showing.ID: showing}}
	cc := NewCachedCatalog(catalog, cache, time.Minute, observability.NewLogger())

	// The cached document is a movie; asking for the same id as a sport
	// showing must fail validation, not ride the cache hit.
	_, err := cc.GetShowing(context.Background(), domain.ShowingRef{Kind: domain.KindSport, ID: showing.ID})
	if !errors.Is(err, domain.ErrInvalidShowing) {
		t.Errorf("got %v, want ErrInvalidShowing", err)
	}
}
