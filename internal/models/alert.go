package models

import "time"

// AlertSeverity orders alert importance. Critical events escalate.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertOperator compares a metric value against a rule threshold.
type AlertOperator string

const (
	OpGreaterThan  AlertOperator = ">"
	OpLessThan     AlertOperator = "<"
	OpGreaterEqual AlertOperator = ">="
	OpLessEqual    AlertOperator = "<="
	OpEqual        AlertOperator = "="
)

// Compare applies the operator with value on the left, threshold on the right.
func (op AlertOperator) Compare(value, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return value > threshold
	case OpLessThan:
		return value < threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// ThresholdKind discriminates the two rule evaluation paths: comparing a
// metric value against a bound, or counting occurrences within the window.
type ThresholdKind string

const (
	ThresholdValue     ThresholdKind = "value"
	ThresholdFrequency ThresholdKind = "frequency"
)

// AlertRule is an admin-editable alerting condition. Threshold semantics are
// explicit via Kind: a value rule compares Metric via Operator/Value; a
// frequency rule fires when Metric occurs at least Count times in the window.
type AlertRule struct {
	ID            string        `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Metric        TrendMetric   `json:"metric" db:"metric"`
	Kind          ThresholdKind `json:"kind" db:"threshold_kind"`
	Operator      AlertOperator `json:"operator,omitempty" db:"operator"`
	Value         float64       `json:"value,omitempty" db:"value"`
	Count         int           `json:"count,omitempty" db:"count"`
	WindowMinutes int           `json:"window_minutes" db:"window_minutes"`
	Severity      AlertSeverity `json:"severity" db:"severity"`
	// Security rules apply a temporary entity block when critical.
	Security  bool      `json:"security" db:"security"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Valid checks the fields required for the rule's threshold kind.
func (r *AlertRule) Valid() bool {
	if r.Name == "" || r.Metric == "" || r.WindowMinutes <= 0 {
		return false
	}
	switch r.Kind {
	case ThresholdValue:
		switch r.Operator {
		case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual, OpEqual:
			return true
		}
		return false
	case ThresholdFrequency:
		return r.Count > 0
	default:
		return false
	}
}

// AlertStatus is the AlertEvent lifecycle state.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// CanTransition reports whether the status may move to next.
// active → acknowledged → resolved, or active → resolved; resolved is terminal.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	switch s {
	case AlertActive:
		return next == AlertAcknowledged || next == AlertResolved
	case AlertAcknowledged:
		return next == AlertResolved
	default:
		return false
	}
}

// AlertEvent is one firing of a rule. Rule fields are copied at creation so
// later rule edits do not rewrite history. Events are never deleted; they are
// transitioned to resolved and retained for audit.
type AlertEvent struct {
	ID              string        `json:"id" db:"id"`
	RuleID          string        `json:"rule_id" db:"rule_id"`
	RuleName        string        `json:"rule_name" db:"rule_name"`
	Metric          TrendMetric   `json:"metric" db:"metric"`
	Severity        AlertSeverity `json:"severity" db:"severity"`
	EntityID        string        `json:"entity_id,omitempty" db:"entity_id"`
	TriggeredAt     time.Time     `json:"triggered_at" db:"triggered_at"`
	CurrentValue    float64       `json:"current_value" db:"current_value"`
	Threshold       float64       `json:"threshold" db:"threshold"`
	Status          AlertStatus   `json:"status" db:"status"`
	AcknowledgedBy  string        `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedBy      string        `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolutionNotes string        `json:"resolution_notes,omitempty" db:"resolution_notes"`
}

// Escalation is the audit record written when a critical event fires.
type Escalation struct {
	ID        string    `json:"id" db:"id"`
	EventID   string    `json:"event_id" db:"event_id"`
	Channel   string    `json:"channel" db:"channel"`
	Note      string    `json:"note" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EntityBlock is a time-boxed block applied to an entity by a
// security-classified critical alert. Expiry is checked on read; expired
// blocks are simply inert rows.
type EntityBlock struct {
	ID        string    `json:"id" db:"id"`
	EntityID  string    `json:"entity_id" db:"entity_id"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// ActiveAt reports whether the block is in force at t.
func (b *EntityBlock) ActiveAt(t time.Time) bool {
	return t.Before(b.ExpiresAt)
}
