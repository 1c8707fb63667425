package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

func TestForRole(t *testing.T) {
	admin := ForRole("a1", RoleAdmin)
	assert.True(t, admin.CanViewAnalytics)
	assert.True(t, admin.CanSuspendEntity)
	assert.True(t, admin.CanManageAlerts)

	operator := ForRole("o1", RoleOperator)
	assert.True(t, operator.CanViewSecurity)
	assert.False(t, operator.CanSuspendEntity)
	assert.False(t, operator.CanViewUsers)

	viewer := ForRole("v1", RoleViewer)
	assert.True(t, viewer.CanViewMetrics)
	assert.False(t, viewer.CanViewAnalytics)
	assert.False(t, viewer.CanManageAlerts)

	unknown := ForRole("x1", "ghost")
	assert.False(t, unknown.CanViewMetrics)
}

func TestCanViewModuleAndAction(t *testing.T) {
	p := PermissionSet{CanViewAnalytics: true, CanManageAlerts: true}

	assert.True(t, p.CanViewModule(models.ModuleAnalytics))
	assert.False(t, p.CanViewModule(models.ModuleUserManagement))
	assert.False(t, p.CanViewModule(models.DashboardModule("nonsense")))

	assert.True(t, p.CanExecuteAction(models.ActionAcknowledgeAlert))
	assert.False(t, p.CanExecuteAction(models.ActionSuspendEntity))
	assert.False(t, p.CanExecuteAction(models.QuickActionType("rm-rf")))
}

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) GetPermissions(_ context.Context, adminID string) (PermissionSet, error) {
	r.calls++
	if r.err != nil {
		return PermissionSet{}, r.err
	}
	return ForRole(adminID, RoleOperator), nil
}

func TestCachingResolver(t *testing.T) {
	inner := &countingResolver{}
	resolver := NewCachingResolver(inner, time.Minute)
	ctx := context.Background()

	first, err := resolver.GetPermissions(ctx, "admin-1")
	require.NoError(t, err)
	second, err := resolver.GetPermissions(ctx, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls, "second lookup must hit the cache")

	resolver.Invalidate("admin-1")
	_, err = resolver.GetPermissions(ctx, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachingResolverDoesNotCacheErrors(t *testing.T) {
	inner := &countingResolver{err: errors.New("resolver down")}
	resolver := NewCachingResolver(inner, time.Minute)
	ctx := context.Background()

	_, err := resolver.GetPermissions(ctx, "admin-1")
	require.Error(t, err)
	_, err = resolver.GetPermissions(ctx, "admin-1")
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}
