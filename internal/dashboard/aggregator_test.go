package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-backend/internal/auth"
	"github.com/opsdeck/opsdeck-backend/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func staticResolver() *auth.StaticResolver {
	return &auth.StaticResolver{
		Roles: map[string]string{
			"admin-1":  auth.RoleAdmin,
			"viewer-1": auth.RoleViewer,
			"op-1":     auth.RoleOperator,
		},
		DefaultRole: auth.RoleViewer,
	}
}

func testSources(fetches *atomic.Int64) []ModuleSource {
	return []ModuleSource{
		SourceFunc{Name: models.ModuleSystemMetrics, Fn: func(context.Context) (interface{}, error) {
			fetches.Add(1)
			return map[string]int{"entities": 3}, nil
		}},
		SourceFunc{Name: models.ModuleAnalytics, Fn: func(context.Context) (interface{}, error) {
			fetches.Add(1)
			return map[string]string{"trend": "improving"}, nil
		}},
		SourceFunc{Name: models.ModuleUserManagement, Fn: func(context.Context) (interface{}, error) {
			fetches.Add(1)
			return map[string]int{"users": 42}, nil
		}},
		SourceFunc{Name: models.ModuleModeration, Fn: func(context.Context) (interface{}, error) {
			fetches.Add(1)
			return nil, errors.New("moderation service down")
		}},
	}
}

func TestAggregatePermissionFiltering(t *testing.T) {
	var fetches atomic.Int64
	agg := NewAggregator(staticResolver(), testSources(&fetches), time.Minute, quietLogger())

	// Operator: analytics and moderation yes, user management no
	snap, err := agg.Aggregate(context.Background(), "op-1",
		[]models.DashboardModule{models.ModuleAnalytics, models.ModuleUserManagement, models.ModuleModeration}, false)
	require.NoError(t, err)
	require.Len(t, snap.Data, 3)

	analytics := snap.Data[models.ModuleAnalytics]
	require.NotNil(t, analytics)
	assert.NotNil(t, analytics.Data)
	assert.Empty(t, analytics.Error)

	// Denied module is an explicit error entry, never silently substituted
	users := snap.Data[models.ModuleUserManagement]
	require.NotNil(t, users)
	assert.Nil(t, users.Data)
	assert.Equal(t, "FORBIDDEN", users.ErrorCode)

	// Failed module is isolated; the rest of the response is intact
	moderation := snap.Data[models.ModuleModeration]
	require.NotNil(t, moderation)
	assert.Nil(t, moderation.Data)
	assert.Equal(t, "FETCH_FAILED", moderation.ErrorCode)
	assert.Contains(t, moderation.Error, "moderation service down")
}

func TestAggregateViewerNeverReceivesAnalytics(t *testing.T) {
	var fetches atomic.Int64
	agg := NewAggregator(staticResolver(), testSources(&fetches), time.Minute, quietLogger())

	snap, err := agg.Aggregate(context.Background(), "viewer-1",
		[]models.DashboardModule{models.ModuleAnalytics}, false)
	require.NoError(t, err)

	result := snap.Data[models.ModuleAnalytics]
	require.NotNil(t, result)
	assert.Nil(t, result.Data)
	assert.Equal(t, "FORBIDDEN", result.ErrorCode)
	assert.Zero(t, fetches.Load(), "denied modules must never be fetched")
}

func TestAggregateUnknownModuleIsHardFailure(t *testing.T) {
	var fetches atomic.Int64
	agg := NewAggregator(staticResolver(), testSources(&fetches), time.Minute, quietLogger())

	_, err := agg.Aggregate(context.Background(), "admin-1",
		[]models.DashboardModule{models.ModuleAnalytics, models.DashboardModule("billing")}, false)
	assert.ErrorIs(t, err, ErrUnknownModule)
	assert.Zero(t, fetches.Load(), "rejected before any side effect")
}

func TestAggregateCachesWithinTTL(t *testing.T) {
	var fetches atomic.Int64
	agg := NewAggregator(staticResolver(), testSources(&fetches), time.Minute, quietLogger())

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }
	agg.cache.now = agg.now

	modules := []models.DashboardModule{models.ModuleSystemMetrics}

	first, err := agg.Aggregate(context.Background(), "admin-1", modules, false)
	require.NoError(t, err)
	assert.Equal(t, time.Minute.Milliseconds(), first.TTLMs)
	assert.Equal(t, now.Add(time.Minute), first.Expiry())

	// Same request inside the TTL returns the identical snapshot
	second, err := agg.Aggregate(context.Background(), "admin-1", modules, false)
	require.NoError(t, err)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
	assert.Equal(t, int64(1), fetches.Load())

	// Forced refresh recomputes
	now = now.Add(time.Second)
	third, err := agg.Aggregate(context.Background(), "admin-1", modules, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.GeneratedAt, third.GeneratedAt)
	assert.Equal(t, int64(2), fetches.Load())

	// TTL expiry recomputes without force
	now = now.Add(2 * time.Minute)
	_, err = agg.Aggregate(context.Background(), "admin-1", modules, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), fetches.Load())
}

func TestAggregateCacheIsPerAdminAndModuleSet(t *testing.T) {
	var fetches atomic.Int64
	agg := NewAggregator(staticResolver(), testSources(&fetches), time.Minute, quietLogger())

	modules := []models.DashboardModule{models.ModuleSystemMetrics}
	_, err := agg.Aggregate(context.Background(), "admin-1", modules, false)
	require.NoError(t, err)
	_, err = agg.Aggregate(context.Background(), "op-1", modules, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetches.Load(), "different admins must not share snapshots")

	// Invalidation forces recompute for that admin only
	agg.Invalidate("admin-1")
	_, err = agg.Aggregate(context.Background(), "admin-1", modules, false)
	require.NoError(t, err)
	_, err = agg.Aggregate(context.Background(), "op-1", modules, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), fetches.Load())
}

type failingResolver struct{}

func (failingResolver) GetPermissions(context.Context, string) (auth.PermissionSet, error) {
	return auth.PermissionSet{}, errors.New("resolver unavailable")
}

func TestAggregateResolverFailureIsHard(t *testing.T) {
	var fetches atomic.Int64
	agg := NewAggregator(failingResolver{}, testSources(&fetches), time.Minute, quietLogger())

	_, err := agg.Aggregate(context.Background(), "admin-1", nil, false)
	assert.Error(t, err)
	assert.Zero(t, fetches.Load())
}
