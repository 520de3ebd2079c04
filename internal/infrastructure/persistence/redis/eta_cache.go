package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
)

// etaKeyPrecision rounds coordinates to about 100 m so nearby lookups share
// an entry.
const etaKeyPrecision = 3

// ETACache memoizes live traffic ETAs between two points for a short TTL.
type ETACache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewETACache creates the cache. ttl bounds how stale a traffic ETA may get.
func NewETACache(c *Cache, ttl time.Duration) *ETACache {
	return &ETACache{client: c.Client(), ttl: ttl}
}

// ETAKey returns the cache key of a route.
func ETAKey(from, to geo.Point) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', etaKeyPrecision, 64) }
	return PrefixETA + f(from.Lng) + "," + f(from.Lat) + ":" + f(to.Lng) + "," + f(to.Lat)
}

// Get returns the cached minutes and whether there was a hit.
func (c *ETACache) Get(ctx context.Context, from, to geo.Point) (float64, bool, error) {
	val, err := c.client.Get(ctx, ETAKey(from, to)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load eta: %w", err)
	}
	minutes, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: eta: %v", ErrCacheSerialization, err)
	}
	return minutes, true, nil
}

// Put stores minutes for the route.
func (c *ETACache) Put(ctx context.Context, from, to geo.Point, minutes float64) error {
	if c.ttl <= 0 {
		return ErrCacheInvalidTTL
	}
	val := strconv.FormatFloat(minutes, 'f', -1, 64)
	if err := c.client.Set(ctx, ETAKey(from, to), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("store eta: %w", err)
	}
	return nil
}
