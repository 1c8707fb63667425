// Package models defines the canonical monitoring domain model for OpsDeck.
// Snapshots are immutable observations; everything else is derived from them.
package models

import "time"

// OperationKind classifies what the monitored entity was doing when the
// observation was taken.
type OperationKind string

const (
	OperationRequest    OperationKind = "request"
	OperationGeneration OperationKind = "generation"
	OperationModeration OperationKind = "moderation"
	OperationWebhook    OperationKind = "webhook"
	OperationBatch      OperationKind = "batch"
)

// ErrorKind is the coarse failure classification recorded on failed operations.
// Timeout and unavailable count against uptime; the rest only against success rate.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindRateLimit   ErrorKind = "rate_limit"
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindInternal    ErrorKind = "internal"
)

// MetricSnapshot is one observed operation against a monitored entity.
// Immutable once created; persisted append-only and never mutated.
type MetricSnapshot struct {
	ID            string            `json:"id" db:"id"`
	EntityID      string            `json:"entity_id" db:"entity_id"`
	Timestamp     time.Time         `json:"timestamp" db:"timestamp"`
	OperationKind OperationKind     `json:"operation_kind" db:"operation_kind"`
	Success       bool              `json:"success" db:"success"`
	LatencyMs     float64           `json:"latency_ms" db:"latency_ms"`
	QualityScore  *float64          `json:"quality_score,omitempty" db:"quality_score"`
	Cost          *float64          `json:"cost,omitempty" db:"cost"`
	ErrorKind     ErrorKind         `json:"error_kind,omitempty" db:"error_kind"`
	Metadata      map[string]string `json:"metadata,omitempty" db:"-"`
}

// Valid returns true if the snapshot has the required fields for ingestion.
func (s *MetricSnapshot) Valid() bool {
	return s.EntityID != "" && !s.Timestamp.IsZero() && s.OperationKind != ""
}

// Period is the lookback window for an aggregation query.
type Period string

const (
	Period1h  Period = "1h"
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
)

// Lookback returns the duration covered by the period, or false for an
// unknown period.
func (p Period) Lookback() (time.Duration, bool) {
	switch p {
	case Period1h:
		return time.Hour, true
	case Period24h:
		return 24 * time.Hour, true
	case Period7d:
		return 7 * 24 * time.Hour, true
	case Period30d:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
