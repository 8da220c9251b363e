package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/showgate/booking-engine/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func unitKey(showingID, unitID string) string {
	return "unit:" + showingID + ":" + unitID
}

// LockUnit is the fast-path contention shed in front of the database hold:
// SETNX per unit, TTL matched to the reclaim delay so an orphaned lock
// cannot outlive the hold it guarded.
func (c *Cache) LockUnit(ctx context.Context, showingID, unitID, bookingID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, unitKey(showingID, unitID), bookingID, ttl)
	return res.Val(), res.Err()
}

// UnlockUnit drops the lock only if this booking owns it.
func (c *Cache) UnlockUnit(ctx context.Context, showingID, unitID, bookingID string) error {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
	return c.client.Eval(ctx, script, []string{unitKey(showingID, unitID)}, bookingID).Err()
}

// Showing cache: catalog reads are hot during on-sale, the documents are
// small and change rarely.

// The key carries the kind so a lookup under the wrong kind misses instead
// of validating against another variant's document.
func showingKey(kind domain.ShowingKind, id string) string {
	return "showing:" + string(kind) + ":" + id
}

func (c *Cache) GetShowing(ctx context.Context, ref domain.ShowingRef) (*domain.Showing, error) {
	val, err := c.client.Get(ctx, showingKey(ref.Kind, ref.ID.String())).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Showing
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Cache) SetShowing(ctx context.Context, s domain.Showing, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, showingKey(s.Kind, s.ID.String()), data, ttl).Err()
}
