package models

import "time"

// DashboardModule names a fan-out domain of the admin dashboard.
type DashboardModule string

const (
	ModuleSystemMetrics  DashboardModule = "system-metrics"
	ModuleSecurityAlerts DashboardModule = "security-alerts"
	ModuleSystemHealth   DashboardModule = "system-health"
	ModuleAnalytics      DashboardModule = "analytics"
	ModuleUserManagement DashboardModule = "user-management"
	ModuleModeration     DashboardModule = "moderation"
)

// ModuleResult is one module's slice of a dashboard snapshot. Exactly one of
// Data or Error is set; a failed module never hides a successful one.
type ModuleResult struct {
	Module    DashboardModule `json:"module"`
	Data      interface{}     `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// DashboardSnapshot is the cached, permission-scoped aggregate view for one
// admin. Owned by the dashboard cache; replaced wholesale, never mutated.
type DashboardSnapshot struct {
	AdminID     string                             `json:"admin_id"`
	Modules     []DashboardModule                  `json:"modules"`
	Data        map[DashboardModule]*ModuleResult  `json:"data"`
	GeneratedAt time.Time                          `json:"generated_at"`
	TTLMs       int64                              `json:"ttl_ms"`
}

// Expiry is the instant after which the snapshot must be recomputed.
func (s *DashboardSnapshot) Expiry() time.Time {
	return s.GeneratedAt.Add(time.Duration(s.TTLMs) * time.Millisecond)
}

// QuickActionType names an admin action dispatched through the dashboard.
type QuickActionType string

const (
	ActionSuspendEntity    QuickActionType = "suspend_entity"
	ActionUnsuspendEntity  QuickActionType = "unsuspend_entity"
	ActionApproveContent   QuickActionType = "approve_content"
	ActionRejectContent    QuickActionType = "reject_content"
	ActionAcknowledgeAlert QuickActionType = "acknowledge_alert"
	ActionResolveAlert     QuickActionType = "resolve_alert"
)

// QuickActionResult reports the outcome of an executed quick action.
type QuickActionResult struct {
	Action     QuickActionType `json:"action"`
	Target     string          `json:"target"`
	ExecutedBy string          `json:"executed_by"`
	ExecutedAt time.Time       `json:"executed_at"`
	Detail     string          `json:"detail,omitempty"`
}

// WebSocketMessage is the envelope pushed to live dashboard subscribers.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Module    DashboardModule `json:"module,omitempty"`
	Data      interface{}     `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
