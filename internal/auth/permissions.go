// Package auth models the permission surface of the admin back-office.
// Identity and token verification live outside this service; callers arrive
// with an adminId and permissions come from the external resolver.
package auth

import (
	"context"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

// Role hierarchy: admin > operator > viewer
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// PermissionSet is the structured permission set for one admin identity.
type PermissionSet struct {
	AdminID           string `json:"admin_id"`
	CanViewMetrics    bool   `json:"can_view_metrics"`
	CanViewAnalytics  bool   `json:"can_view_analytics"`
	CanViewUsers      bool   `json:"can_view_users"`
	CanViewModeration bool   `json:"can_view_moderation"`
	CanViewSecurity   bool   `json:"can_view_security"`
	CanManageAlerts   bool   `json:"can_manage_alerts"`
	CanSuspendEntity  bool   `json:"can_suspend_entity"`
	CanApproveContent bool   `json:"can_approve_content"`
}

// CanViewModule maps a dashboard module to its view permission.
func (p PermissionSet) CanViewModule(module models.DashboardModule) bool {
	switch module {
	case models.ModuleSystemMetrics, models.ModuleSystemHealth:
		return p.CanViewMetrics
	case models.ModuleAnalytics:
		return p.CanViewAnalytics
	case models.ModuleUserManagement:
		return p.CanViewUsers
	case models.ModuleModeration:
		return p.CanViewModeration
	case models.ModuleSecurityAlerts:
		return p.CanViewSecurity
	default:
		return false
	}
}

// CanExecuteAction maps a quick action to its required permission.
func (p PermissionSet) CanExecuteAction(action models.QuickActionType) bool {
	switch action {
	case models.ActionSuspendEntity, models.ActionUnsuspendEntity:
		return p.CanSuspendEntity
	case models.ActionApproveContent, models.ActionRejectContent:
		return p.CanApproveContent
	case models.ActionAcknowledgeAlert, models.ActionResolveAlert:
		return p.CanManageAlerts
	default:
		return false
	}
}

// ForRole returns the permission set granted by a role.
func ForRole(adminID, role string) PermissionSet {
	p := PermissionSet{AdminID: adminID}
	switch role {
	case RoleAdmin:
		p.CanViewMetrics = true
		p.CanViewAnalytics = true
		p.CanViewUsers = true
		p.CanViewModeration = true
		p.CanViewSecurity = true
		p.CanManageAlerts = true
		p.CanSuspendEntity = true
		p.CanApproveContent = true
	case RoleOperator:
		p.CanViewMetrics = true
		p.CanViewAnalytics = true
		p.CanViewModeration = true
		p.CanViewSecurity = true
		p.CanManageAlerts = true
		p.CanApproveContent = true
	case RoleViewer:
		p.CanViewMetrics = true
	}
	return p
}

// Resolver resolves permissions for an admin identity. Implementations must
// be idempotent: the caller caches results for ~10 minutes.
type Resolver interface {
	GetPermissions(ctx context.Context, adminID string) (PermissionSet, error)
}

// StaticResolver maps admin ids to roles from configuration. Unknown admins
// get the default role.
type StaticResolver struct {
	Roles       map[string]string
	DefaultRole string
}

func (r *StaticResolver) GetPermissions(_ context.Context, adminID string) (PermissionSet, error) {
	role := r.DefaultRole
	if r.Roles != nil {
		if got, ok := r.Roles[adminID]; ok {
			role = got
		}
	}
	return ForRole(adminID, role), nil
}
