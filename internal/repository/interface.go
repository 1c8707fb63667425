package repository

import (
	"context"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

// SnapshotRepository defines the append-only metric snapshot store.
// Snapshots are never updated or deleted; rollups derive from range reads.
type SnapshotRepository interface {
	// InsertSnapshots writes a batch in one transaction. Order within the
	// batch is preserved per entity.
	InsertSnapshots(ctx context.Context, snapshots []*models.MetricSnapshot) error
	// ListSnapshots returns snapshots for an entity within [from, to),
	// ascending by timestamp.
	ListSnapshots(ctx context.Context, entityID string, from, to time.Time) ([]*models.MetricSnapshot, error)
	// ListEntityIDs returns the distinct entities with snapshots in [from, to).
	ListEntityIDs(ctx context.Context, from, to time.Time) ([]string, error)
}

// AlertRuleRepository defines alert rule configuration access.
type AlertRuleRepository interface {
	CreateRule(ctx context.Context, rule *models.AlertRule) error
	GetRule(ctx context.Context, id string) (*models.AlertRule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error)
	UpdateRule(ctx context.Context, rule *models.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
}

// AlertEventRepository defines alert event access. Events are never deleted;
// they transition to resolved and remain for audit.
type AlertEventRepository interface {
	CreateEvent(ctx context.Context, event *models.AlertEvent) error
	GetEvent(ctx context.Context, id string) (*models.AlertEvent, error)
	ListEvents(ctx context.Context, status models.AlertStatus, limit int) ([]*models.AlertEvent, error)
	// OpenEventForRule returns the active or acknowledged event for a
	// rule/entity pair, or nil when none exists.
	OpenEventForRule(ctx context.Context, ruleID, entityID string) (*models.AlertEvent, error)
	// TransitionEvent conditionally moves an event from one status to
	// another. Returns false when the event was not in the expected status,
	// so concurrent transitions cannot double-apply.
	TransitionEvent(ctx context.Context, id string, from, to models.AlertStatus, by, notes string, at time.Time) (bool, error)
	CreateEscalation(ctx context.Context, esc *models.Escalation) error
	ListEscalations(ctx context.Context, eventID string) ([]*models.Escalation, error)
}

// BlockRepository defines temporary entity block access.
type BlockRepository interface {
	CreateBlock(ctx context.Context, block *models.EntityBlock) error
	// ActiveBlock returns the newest block for an entity still in force at
	// now, or nil.
	ActiveBlock(ctx context.Context, entityID string, now time.Time) (*models.EntityBlock, error)
	ListActiveBlocks(ctx context.Context, now time.Time) ([]*models.EntityBlock, error)
	// ExpireBlocks ends every in-force block for an entity by moving its
	// expiry to now. Rows are kept for audit.
	ExpireBlocks(ctx context.Context, entityID string, now time.Time) (int, error)
}

// Pinger health-probes the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Repository aggregates all repositories.
type Repository struct {
	Pinger
	Snapshots SnapshotRepository
	Rules     AlertRuleRepository
	Events    AlertEventRepository
	Blocks    BlockRepository
}
