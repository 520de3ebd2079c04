package traffic

import (
	"context"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
)

// Provider is anything that returns a live ETA in minutes.
type Provider interface {
	ETA(ctx context.Context, origin, destination geo.Point) (float64, error)
}

// Cache stores ETAs per route. The Redis ETACache implements it.
type Cache interface {
	Get(ctx context.Context, from, to geo.Point) (float64, bool, error)
	Put(ctx context.Context, from, to geo.Point, minutes float64) error
}

// CachedProvider serves repeated lookups from a cache. Cache errors are
// logged and never fail a lookup; provider errors are never cached.
type CachedProvider struct {
	next  Provider
	cache Cache
	log   *logger.Logger
}

// NewCachedProvider wraps next with cache.
func NewCachedProvider(next Provider, cache Cache, log *logger.Logger) *CachedProvider {
	if log == nil {
		log = logger.NewNop()
	}
	return &CachedProvider{next: next, cache: cache, log: log.Named("traffic_cache")}
}

// ETA implements Provider.
func (p *CachedProvider) ETA(ctx context.Context, origin, destination geo.Point) (float64, error) {
	minutes, hit, err := p.cache.Get(ctx, origin, destination)
	if err != nil {
		p.log.Warn("eta cache read failed", logger.Err(err))
	} else if hit {
		return minutes, nil
	}

	minutes, err = p.next.ETA(ctx, origin, destination)
	if err != nil {
		return 0, err
	}

	if err := p.cache.Put(ctx, origin, destination, minutes); err != nil {
		p.log.Warn("eta cache write failed", logger.Err(err))
	}
	return minutes, nil
}
