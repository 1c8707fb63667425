package models

import "time"

// TrendMetric names a metric series a trend or rule can be computed over.
type TrendMetric string

const (
	MetricSuccessRate TrendMetric = "success_rate"
	MetricErrorRate   TrendMetric = "error_rate"
	MetricLatency     TrendMetric = "latency"
	MetricQuality     TrendMetric = "quality"
	MetricCost        TrendMetric = "cost"
	// MetricRateLimitHits counts rate-limit violations; used by
	// frequency-threshold rules.
	MetricRateLimitHits TrendMetric = "rate_limit_hits"
)

// TrendDirection classifies the slope of a fitted trend line.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDeclining TrendDirection = "declining"
)

// TrendPoint is one hourly bucket of the analyzed series.
type TrendPoint struct {
	BucketStart time.Time `json:"bucket_start"`
	Value       float64   `json:"value"`
	Samples     int       `json:"samples"`
}

// TrendResult is the outcome of a least-squares fit over hourly buckets.
// Ephemeral; recomputed on demand.
type TrendResult struct {
	EntityID      string         `json:"entity_id"`
	Metric        TrendMetric    `json:"metric"`
	Direction     TrendDirection `json:"direction"`
	ChangePercent float64        `json:"change_percent"`
	Confidence    float64        `json:"confidence"` // R² clamped to [0,1]
	Timeframe     Period         `json:"timeframe"`
	DataPoints    []TrendPoint   `json:"data_points"`
}
