// Package dashboard assembles the permission-scoped admin dashboard from the
// monitoring engine and the external back-office domains, with caching and
// per-module failure isolation.
package dashboard

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/metrics"
)

const defaultSnapshotTTL = 5 * time.Minute

// snapshotCache caches DashboardSnapshots by cache key. Snapshots are
// immutable once stored and replaced wholesale on refresh, so concurrent
// readers never observe a partially-updated view.
type snapshotCache struct {
	mu    sync.RWMutex
	items map[string]*models.DashboardSnapshot
	ttl   time.Duration
	now   func() time.Time
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &snapshotCache{
		items: make(map[string]*models.DashboardSnapshot),
		ttl:   ttl,
		now:   time.Now,
	}
}

// cacheKey builds a stable key from the admin and the requested module set.
func cacheKey(adminID string, modules []models.DashboardModule) string {
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = string(m)
	}
	sort.Strings(names)
	return adminID + "|" + strings.Join(names, ",")
}

func (c *snapshotCache) get(key string) (*models.DashboardSnapshot, bool) {
	c.mu.RLock()
	snap, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(snap.Expiry()) {
		metrics.DashboardCacheMissesTotal.Inc()
		return nil, false
	}
	metrics.DashboardCacheHitsTotal.Inc()
	return snap, true
}

func (c *snapshotCache) set(key string, snap *models.DashboardSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = snap
}

// invalidateAdmin drops every cached snapshot belonging to one admin.
func (c *snapshotCache) invalidateAdmin(adminID string) {
	prefix := adminID + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}
