package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultPermissionCacheTTL  = 10 * time.Minute
	defaultPermissionCacheSize = 1024
)

// CachingResolver wraps a Resolver with an expirable LRU so the permission
// service is consulted at most once per admin per TTL. Resolver errors are
// never cached.
type CachingResolver struct {
	inner Resolver
	cache *expirable.LRU[string, PermissionSet]
}

// NewCachingResolver returns a caching wrapper around inner. ttl <= 0 falls
// back to the 10-minute default.
func NewCachingResolver(inner Resolver, ttl time.Duration) *CachingResolver {
	if ttl <= 0 {
		ttl = defaultPermissionCacheTTL
	}
	return &CachingResolver{
		inner: inner,
		cache: expirable.NewLRU[string, PermissionSet](defaultPermissionCacheSize, nil, ttl),
	}
}

func (r *CachingResolver) GetPermissions(ctx context.Context, adminID string) (PermissionSet, error) {
	if perms, ok := r.cache.Get(adminID); ok {
		return perms, nil
	}
	perms, err := r.inner.GetPermissions(ctx, adminID)
	if err != nil {
		return PermissionSet{}, err
	}
	r.cache.Add(adminID, perms)
	return perms, nil
}

// Invalidate drops a cached entry, forcing re-resolution on next use.
func (r *CachingResolver) Invalidate(adminID string) {
	r.cache.Remove(adminID)
}
