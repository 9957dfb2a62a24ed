package repositories

import (
	"context"
	"time"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/pkg/cache"
)

const lookupKeyPrefix = "lookup:"

type lookupResult struct {
	instanceID string
	found      bool
}

// CachedPresenceRegistry caches Lookup results of another PresenceRegistry.
// Local Register and Unregister calls invalidate the affected source id.
type CachedPresenceRegistry struct {
	base  ports.PresenceRegistry
	cache *cache.CacheWithFallback
	ttl   time.Duration
}

func NewCachedPresenceRegistry(base ports.PresenceRegistry, ttl time.Duration) *CachedPresenceRegistry {
	return &CachedPresenceRegistry{
		base:  base,
		cache: cache.NewCacheWithFallback(ttl),
		ttl:   ttl,
	}
}

var _ ports.PresenceRegistry = (*CachedPresenceRegistry)(nil)

func (r *CachedPresenceRegistry) Register(ctx context.Context, info domain.ConnectionInfo) error {
	r.invalidate(info.SourceID)
	return r.base.Register(ctx, info)
}

func (r *CachedPresenceRegistry) Unregister(ctx context.Context, info domain.ConnectionInfo) error {
	r.invalidate(info.SourceID)
	return r.base.Unregister(ctx, info)
}

func (r *CachedPresenceRegistry) Refresh(ctx context.Context, infos []domain.ConnectionInfo) error {
	return r.base.Refresh(ctx, infos)
}

func (r *CachedPresenceRegistry) Lookup(ctx context.Context, sourceID string) (string, bool, error) {
	value, err := r.cache.GetOrSet(ctx, lookupKeyPrefix+sourceID, func(ctx context.Context) (interface{}, error) {
		instanceID, found, err := r.base.Lookup(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		return lookupResult{instanceID: instanceID, found: found}, nil
	}, r.ttl)
	if err != nil {
		return "", false, err
	}

	res := value.(lookupResult)
	return res.instanceID, res.found, nil
}

func (r *CachedPresenceRegistry) Close(ctx context.Context) error {
	r.cache.Stop()
	return r.base.Close(ctx)
}

func (r *CachedPresenceRegistry) invalidate(sourceID string) {
	if sourceID != "" {
		r.cache.Delete(lookupKeyPrefix + sourceID)
	}
}
