package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/analytics"
	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/metrics"
	"github.com/opsdeck/opsdeck-backend/internal/repository"
)

var (
	// ErrInvalidTransition is returned for a state change the event's
	// lifecycle does not allow (resolved is terminal).
	ErrInvalidTransition = errors.New("invalid alert event transition")
	// ErrEventNotFound is returned when the referenced event does not exist.
	ErrEventNotFound = errors.New("alert event not found")
)

const (
	defaultEvalInterval  = 5 * time.Minute
	defaultBlockDuration = 30 * time.Minute
	defaultStoreTimeout  = 10 * time.Second
	defaultNotifyTimeout = 5 * time.Second
)

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	EvalInterval  time.Duration
	BlockDuration time.Duration // how long a security block stays in force
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.EvalInterval <= 0 {
		o.EvalInterval = defaultEvalInterval
	}
	if o.BlockDuration <= 0 {
		o.BlockDuration = defaultBlockDuration
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = defaultNotifyTimeout
	}
	return o
}

// Engine evaluates alert rules on a schedule and owns the event lifecycle.
// One evaluation pass runs at a time, so the duplicate-event check is
// read-then-write consistent per rule.
type Engine struct {
	snapshots repository.SnapshotRepository
	rules     repository.AlertRuleRepository
	events    repository.AlertEventRepository
	blocks    repository.BlockRepository
	notifiers []Notifier
	opts      Options
	log       *slog.Logger
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewEngine creates an alert engine over the given repositories.
func NewEngine(repo *repository.Repository, notifiers []Notifier, opts Options, log *slog.Logger) *Engine {
	return &Engine{
		snapshots: repo.Snapshots,
		rules:     repo.Rules,
		events:    repo.Events,
		blocks:    repo.Blocks,
		notifiers: notifiers,
		opts:      opts.withDefaults(),
		log:       log,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the evaluation loop in a background goroutine. An iteration
// never kills the loop: failures are logged and the next tick proceeds.
func (e *Engine) Start(ctx context.Context) {
	e.log.Info("starting alert evaluation loop", "interval", e.opts.EvalInterval)

	go func() {
		ticker := time.NewTicker(e.opts.EvalInterval)
		defer ticker.Stop()

		e.safeEvaluate(ctx)

		for {
			select {
			case <-ticker.C:
				e.safeEvaluate(ctx)
			case <-e.stopCh:
				e.log.Info("alert evaluation loop stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the evaluation loop. Safe to call more than once; the shutdown
// path reaches it both deferred and explicitly.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *Engine) safeEvaluate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("alert evaluation panicked", "panic", r)
		}
	}()
	if err := e.EvaluateOnce(ctx); err != nil {
		e.log.Error("alert evaluation pass failed", "error", err)
	}
}

// EvaluateOnce runs a single evaluation pass over all enabled rules.
func (e *Engine) EvaluateOnce(ctx context.Context) error {
	start := e.now()
	defer func() {
		metrics.AlertEvalDurationSeconds.Observe(e.now().Sub(start).Seconds())
	}()

	listCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	rules, err := e.rules.ListRules(listCtx, true)
	cancel()
	if err != nil {
		return fmt.Errorf("list enabled rules: %w", err)
	}

	for _, rule := range rules {
		if err := e.evaluateRule(ctx, rule); err != nil {
			// A broken rule must not starve the rest of the pass.
			e.log.Error("rule evaluation failed", "rule_id", rule.ID, "rule", rule.Name, "error", err)
		}
	}
	return nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule *models.AlertRule) error {
	if !rule.Valid() {
		return fmt.Errorf("rule %s is malformed", rule.ID)
	}

	now := e.now().UTC()
	from := now.Add(-time.Duration(rule.WindowMinutes) * time.Minute)

	listCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	entityIDs, err := e.snapshots.ListEntityIDs(listCtx, from, now)
	cancel()
	if err != nil {
		return fmt.Errorf("list entities in window: %w", err)
	}

	for _, entityID := range entityIDs {
		snapCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
		snaps, err := e.snapshots.ListSnapshots(snapCtx, entityID, from, now)
		cancel()
		if err != nil {
			e.log.Error("load window failed", "rule_id", rule.ID, "entity_id", entityID, "error", err)
			continue
		}

		value, ok := analytics.MetricValue(rule.Metric, snaps)
		if !ok {
			// Insufficient data is not an alert condition.
			continue
		}

		satisfied, threshold := ruleSatisfied(rule, value)
		if !satisfied {
			continue
		}

		if err := e.fire(ctx, rule, entityID, value, threshold, now); err != nil {
			e.log.Error("alert firing failed", "rule_id", rule.ID, "entity_id", entityID, "error", err)
		}
	}
	return nil
}

// ruleSatisfied applies the rule's tagged threshold to the metric value and
// returns the numeric threshold to copy onto the event.
func ruleSatisfied(rule *models.AlertRule, value float64) (bool, float64) {
	switch rule.Kind {
	case models.ThresholdValue:
		return rule.Operator.Compare(value, rule.Value), rule.Value
	case models.ThresholdFrequency:
		return value >= float64(rule.Count), float64(rule.Count)
	default:
		return false, 0
	}
}

// fire opens a new event unless an equivalent open event already exists for
// the rule/entity pair.
func (e *Engine) fire(ctx context.Context, rule *models.AlertRule, entityID string, value, threshold float64, now time.Time) error {
	storeCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	existing, err := e.events.OpenEventForRule(storeCtx, rule.ID, entityID)
	if err != nil {
		return fmt.Errorf("check open event: %w", err)
	}
	if existing != nil {
		return nil
	}

	event := &models.AlertEvent{
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		Metric:       rule.Metric,
		Severity:     rule.Severity,
		EntityID:     entityID,
		TriggeredAt:  now,
		CurrentValue: value,
		Threshold:    threshold,
		Status:       models.AlertActive,
	}
	if err := e.events.CreateEvent(storeCtx, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	metrics.AlertEventsOpenedTotal.WithLabelValues(string(event.Severity)).Inc()
	e.log.Warn("alert event opened",
		"event_id", event.ID, "rule", rule.Name, "entity_id", entityID,
		"severity", string(rule.Severity), "value", value, "threshold", threshold)

	if rule.Severity == models.SeverityCritical {
		e.escalate(ctx, rule, event, now)
	}
	return nil
}

// escalate records the escalation, dispatches notifications, and applies a
// temporary entity block for security-classified rules.
func (e *Engine) escalate(ctx context.Context, rule *models.AlertRule, event *models.AlertEvent, now time.Time) {
	for _, n := range e.notifiers {
		storeCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
		err := e.events.CreateEscalation(storeCtx, &models.Escalation{
			EventID:   event.ID,
			Channel:   n.Name(),
			Note:      fmt.Sprintf("critical alert %q escalated", rule.Name),
			CreatedAt: now,
		})
		cancel()
		if err != nil {
			e.log.Error("record escalation failed", "event_id", event.ID, "channel", n.Name(), "error", err)
		}

		notifyCtx, cancel := context.WithTimeout(ctx, e.opts.NotifyTimeout)
		if err := n.Notify(notifyCtx, event); err != nil {
			e.log.Error("alert notification failed", "event_id", event.ID, "channel", n.Name(), "error", err)
		}
		cancel()
	}

	if rule.Security && event.EntityID != "" {
		storeCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
		defer cancel()
		err := e.blocks.CreateBlock(storeCtx, &models.EntityBlock{
			EntityID:  event.EntityID,
			Reason:    fmt.Sprintf("security alert: %s", rule.Name),
			CreatedAt: now,
			ExpiresAt: now.Add(e.opts.BlockDuration),
		})
		if err != nil {
			e.log.Error("apply entity block failed", "entity_id", event.EntityID, "error", err)
			return
		}
		e.log.Warn("entity temporarily blocked",
			"entity_id", event.EntityID, "rule", rule.Name, "expires_in", e.opts.BlockDuration)
	}
}

// Acknowledge transitions an event from active to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, eventID, adminID string) (*models.AlertEvent, error) {
	return e.transition(ctx, eventID, models.AlertAcknowledged, adminID, "")
}

// Resolve transitions an event to resolved, from either active or
// acknowledged. Events are never auto-resolved; this is the only way out.
func (e *Engine) Resolve(ctx context.Context, eventID, adminID, notes string) (*models.AlertEvent, error) {
	return e.transition(ctx, eventID, models.AlertResolved, adminID, notes)
}

func (e *Engine) transition(ctx context.Context, eventID string, to models.AlertStatus, adminID, notes string) (*models.AlertEvent, error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	event, err := e.events.GetEvent(storeCtx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if !event.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, event.Status, to)
	}

	ok, err := e.events.TransitionEvent(storeCtx, eventID, event.Status, to, adminID, notes, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("transition event: %w", err)
	}
	if !ok {
		// Lost a race with a concurrent transition.
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, event.Status, to)
	}
	return e.events.GetEvent(storeCtx, eventID)
}
