package booking

import (
	"context"
	"time"

	"github.com/showgate/booking-engine/internal/domain"
	"github.com/showgate/booking-engine/internal/observability"
)

// ShowingCache is the redis side of the cached catalog.
type ShowingCache interface {
	GetShowing(ctx context.Context, ref domain.ShowingRef) (*domain.Showing, error)
	SetShowing(ctx context.Context, s domain.Showing, ttl time.Duration) error
}

// CachedCatalog fronts the catalog with a short-TTL cache. On-sale traffic
// reads the same showing thousands of times; a stale price window of a few
// seconds is acceptable because the occupancy store is the authority.
type CachedCatalog struct {
	catalog Catalog
	cache   ShowingCache
	ttl     time.Duration
	logger  observability.Logger
}

func NewCachedCatalog(catalog Catalog, cache ShowingCache, ttl time.Duration, logger observability.Logger) *CachedCatalog {
	return &CachedCatalog{catalog: catalog, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedCatalog) GetShowing(ctx context.Context, ref domain.ShowingRef) (domain.Showing, error) {
	if cached, err := c.cache.GetShowing(ctx, ref); err != nil {
		c.logger.WithError(err).Warn("showing cache read failed")
	} else if cached != nil && cached.Kind == ref.Kind {
		// The kind check backs up the kind-scoped cache key: a hit for
		// the wrong variant must not satisfy the tagged ref.
		return *cached, nil
	}

	s, err := c.catalog.GetShowing(ctx, ref)
	if err != nil {
		return domain.Showing{}, err
	}
	if err := c.cache.SetShowing(ctx, s, c.ttl); err != nil {
		c.logger.WithError(err).Warn("showing cache write failed")
	}
	return s, nil
}
