package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/alerting"
	"github.com/opsdeck/opsdeck-backend/internal/auth"
	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/repository"
)

// ErrUnknownAction rejects an action type this dispatcher does not know,
// before any permission check or side effect.
var ErrUnknownAction = errors.New("unknown quick action")

// ModerationActions is the external content-moderation collaborator.
type ModerationActions interface {
	Approve(ctx context.Context, contentID, by string) error
	Reject(ctx context.Context, contentID, by, reason string) error
}

const defaultActionBlockDuration = 30 * time.Minute

// ActionDispatcher executes dashboard quick actions after an action-specific
// permission check.
type ActionDispatcher struct {
	resolver      auth.Resolver
	blocks        repository.BlockRepository
	alerts        *alerting.Engine
	moderation    ModerationActions
	aggregator    *Aggregator
	blockDuration time.Duration
	log           *slog.Logger
	now           func() time.Time
}

// NewActionDispatcher wires the quick-action surface. moderation may be nil
// when the moderation domain is not deployed; its actions then fail cleanly.
func NewActionDispatcher(
	resolver auth.Resolver,
	blocks repository.BlockRepository,
	alerts *alerting.Engine,
	moderation ModerationActions,
	aggregator *Aggregator,
	blockDuration time.Duration,
	log *slog.Logger,
) *ActionDispatcher {
	if blockDuration <= 0 {
		blockDuration = defaultActionBlockDuration
	}
	return &ActionDispatcher{
		resolver:      resolver,
		blocks:        blocks,
		alerts:        alerts,
		moderation:    moderation,
		aggregator:    aggregator,
		blockDuration: blockDuration,
		log:           log,
		now:           time.Now,
	}
}

func knownAction(action models.QuickActionType) bool {
	switch action {
	case models.ActionSuspendEntity, models.ActionUnsuspendEntity,
		models.ActionApproveContent, models.ActionRejectContent,
		models.ActionAcknowledgeAlert, models.ActionResolveAlert:
		return true
	default:
		return false
	}
}

// Execute runs one quick action for an admin. Unknown actions and missing
// permissions are hard failures raised before any side effect.
func (d *ActionDispatcher) Execute(ctx context.Context, adminID string, action models.QuickActionType, params map[string]string) (*models.QuickActionResult, error) {
	if !knownAction(action) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	perms, err := d.resolver.GetPermissions(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions for %s: %w", adminID, err)
	}
	if !perms.CanExecuteAction(action) {
		return nil, fmt.Errorf("%w: %s may not execute %s", ErrPermissionDenied, adminID, action)
	}

	result := &models.QuickActionResult{
		Action:     action,
		ExecutedBy: adminID,
		ExecutedAt: d.now().UTC(),
	}

	switch action {
	case models.ActionSuspendEntity:
		err = d.suspendEntity(ctx, adminID, params, result)
	case models.ActionUnsuspendEntity:
		err = d.unsuspendEntity(ctx, params, result)
	case models.ActionApproveContent:
		err = d.moderate(ctx, adminID, params, result, true)
	case models.ActionRejectContent:
		err = d.moderate(ctx, adminID, params, result, false)
	case models.ActionAcknowledgeAlert:
		err = d.acknowledgeAlert(ctx, adminID, params, result)
	case models.ActionResolveAlert:
		err = d.resolveAlert(ctx, adminID, params, result)
	}
	if err != nil {
		return nil, err
	}

	// The action changed what the dashboard shows; drop this admin's cache.
	if d.aggregator != nil {
		d.aggregator.Invalidate(adminID)
	}
	d.log.Info("quick action executed",
		"action", string(action), "admin_id", adminID, "target", result.Target)
	return result, nil
}

func requireParam(params map[string]string, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return v, nil
}

func (d *ActionDispatcher) suspendEntity(ctx context.Context, adminID string, params map[string]string, result *models.QuickActionResult) error {
	entityID, err := requireParam(params, "entity_id")
	if err != nil {
		return err
	}

	duration := d.blockDuration
	if raw, ok := params["minutes"]; ok && raw != "" {
		minutes, convErr := strconv.Atoi(raw)
		if convErr != nil || minutes <= 0 {
			return fmt.Errorf("invalid minutes parameter %q", raw)
		}
		duration = time.Duration(minutes) * time.Minute
	}

	now := d.now().UTC()
	if err := d.blocks.CreateBlock(ctx, &models.EntityBlock{
		EntityID:  entityID,
		Reason:    fmt.Sprintf("suspended by %s", adminID),
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}); err != nil {
		return fmt.Errorf("suspend entity: %w", err)
	}

	result.Target = entityID
	result.Detail = fmt.Sprintf("blocked for %s", duration)
	return nil
}

func (d *ActionDispatcher) unsuspendEntity(ctx context.Context, params map[string]string, result *models.QuickActionResult) error {
	entityID, err := requireParam(params, "entity_id")
	if err != nil {
		return err
	}

	n, err := d.blocks.ExpireBlocks(ctx, entityID, d.now().UTC())
	if err != nil {
		return fmt.Errorf("unsuspend entity: %w", err)
	}

	result.Target = entityID
	result.Detail = fmt.Sprintf("expired %d block(s)", n)
	return nil
}

func (d *ActionDispatcher) moderate(ctx context.Context, adminID string, params map[string]string, result *models.QuickActionResult, approve bool) error {
	if d.moderation == nil {
		return errors.New("moderation service not configured")
	}
	contentID, err := requireParam(params, "content_id")
	if err != nil {
		return err
	}

	if approve {
		err = d.moderation.Approve(ctx, contentID, adminID)
	} else {
		err = d.moderation.Reject(ctx, contentID, adminID, params["reason"])
	}
	if err != nil {
		return fmt.Errorf("moderation action: %w", err)
	}

	result.Target = contentID
	return nil
}

func (d *ActionDispatcher) acknowledgeAlert(ctx context.Context, adminID string, params map[string]string, result *models.QuickActionResult) error {
	eventID, err := requireParam(params, "event_id")
	if err != nil {
		return err
	}

	event, err := d.alerts.Acknowledge(ctx, eventID, adminID)
	if err != nil {
		return err
	}

	result.Target = event.ID
	result.Detail = string(event.Status)
	return nil
}

func (d *ActionDispatcher) resolveAlert(ctx context.Context, adminID string, params map[string]string, result *models.QuickActionResult) error {
	eventID, err := requireParam(params, "event_id")
	if err != nil {
		return err
	}

	event, err := d.alerts.Resolve(ctx, eventID, adminID, params["notes"])
	if err != nil {
		return err
	}

	result.Target = event.ID
	result.Detail = string(event.Status)
	return nil
}
