package redisx

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// StatusCache keeps the last known status of an order for fast reads.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

// Get returns ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (string, bool, error) {
	s, err := c.rdb.Get(ctx, OrderStatusKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get status")
	}
	return s, true, nil
}

func (c *StatusCache) Set(ctx context.Context, orderID, status string) error {
	return errors.Wrap(c.rdb.Set(ctx, OrderStatusKey(orderID), status, c.ttl).Err(), "set status")
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return errors.Wrap(c.rdb.Del(ctx, OrderStatusKey(orderID)).Err(), "invalidate status")
}
