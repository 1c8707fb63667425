package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsdeck/opsdeck-backend/internal/auth"
	"github.com/opsdeck/opsdeck-backend/internal/models"
)

var (
	// ErrPermissionDenied is a hard failure: no partial result accompanies it.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnknownModule rejects a request naming a module that does not exist,
	// before any fetch runs.
	ErrUnknownModule = errors.New("unknown dashboard module")
)

const defaultFetchTimeout = 10 * time.Second

// Aggregator fans out across module sources for the modules an admin may
// see, isolates per-module failures, and caches assembled snapshots.
type Aggregator struct {
	resolver     auth.Resolver
	sources      map[models.DashboardModule]ModuleSource
	cache        *snapshotCache
	ttl          time.Duration
	fetchTimeout time.Duration
	log          *slog.Logger
	now          func() time.Time
}

// NewAggregator builds an aggregator over the given sources.
func NewAggregator(resolver auth.Resolver, sources []ModuleSource, ttl time.Duration, log *slog.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	byModule := make(map[models.DashboardModule]ModuleSource, len(sources))
	for _, s := range sources {
		byModule[s.Module()] = s
	}
	return &Aggregator{
		resolver:     resolver,
		sources:      byModule,
		cache:        newSnapshotCache(ttl),
		ttl:          ttl,
		fetchTimeout: defaultFetchTimeout,
		log:          log,
		now:          time.Now,
	}
}

// Modules returns the modules this aggregator can serve.
func (a *Aggregator) Modules() []models.DashboardModule {
	out := make([]models.DashboardModule, 0, len(a.sources))
	for m := range a.sources {
		out = append(out, m)
	}
	return out
}

// Aggregate assembles the dashboard for an admin. Without force, a cached
// snapshot inside its TTL is returned as-is (identical GeneratedAt); force
// bypasses and replaces the cache entry.
func (a *Aggregator) Aggregate(ctx context.Context, adminID string, requested []models.DashboardModule, force bool) (*models.DashboardSnapshot, error) {
	if len(requested) == 0 {
		requested = a.Modules()
	}
	for _, m := range requested {
		if _, ok := a.sources[m]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, m)
		}
	}

	perms, err := a.resolver.GetPermissions(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions for %s: %w", adminID, err)
	}

	key := cacheKey(adminID, requested)
	if !force {
		if snap, ok := a.cache.get(key); ok {
			return snap, nil
		}
	}

	snap := &models.DashboardSnapshot{
		AdminID:     adminID,
		Modules:     requested,
		Data:        make(map[models.DashboardModule]*models.ModuleResult, len(requested)),
		GeneratedAt: a.now().UTC(),
		TTLMs:       a.ttl.Milliseconds(),
	}

	results := make([]*models.ModuleResult, len(requested))
	g, gctx := errgroup.WithContext(ctx)
	for i, module := range requested {
		i, module := i, module
		if !perms.CanViewModule(module) {
			// Denied modules surface as per-module permission errors; they
			// are never silently substituted and never abort the rest.
			results[i] = &models.ModuleResult{
				Module:    module,
				Error:     "permission denied",
				ErrorCode: "FORBIDDEN",
				FetchedAt: snap.GeneratedAt,
			}
			continue
		}
		source := a.sources[module]
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, a.fetchTimeout)
			defer cancel()

			data, err := source.Fetch(fetchCtx)
			result := &models.ModuleResult{Module: module, FetchedAt: a.now().UTC()}
			if err != nil {
				a.log.Error("dashboard module fetch failed", "module", string(module), "error", err)
				result.Error = err.Error()
				result.ErrorCode = "FETCH_FAILED"
			} else {
				result.Data = data
			}
			results[i] = result
			// Failures stay inside the module result; the group never aborts.
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r != nil {
			snap.Data[r.Module] = r
		}
	}

	a.cache.set(key, snap)
	return snap, nil
}

// Invalidate drops all cached snapshots for an admin, forcing the next
// Aggregate to recompute.
func (a *Aggregator) Invalidate(adminID string) {
	a.cache.invalidateAdmin(adminID)
}
