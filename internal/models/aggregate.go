package models

// AggregatedMetrics is the per-entity, per-period rollup. It is recomputed
// from the snapshot history on every read; there are no running counters that
// can drift from the source data.
type AggregatedMetrics struct {
	EntityID    string  `json:"entity_id"`
	Period      Period  `json:"period"`
	TotalOps    int     `json:"total_ops"`
	SuccessOps  int     `json:"success_ops"`
	FailedOps   int     `json:"failed_ops"`
	SuccessRate float64 `json:"success_rate"` // 0..1
	AvgLatency  float64 `json:"avg_latency_ms"`
	P95Latency  float64 `json:"p95_latency_ms"`
	P99Latency  float64 `json:"p99_latency_ms"`
	AvgQuality  float64 `json:"avg_quality"`
	TotalCost   float64 `json:"total_cost"`
	UptimePct   float64 `json:"uptime_pct"` // 0..100
	// ErrorBreakdown counts failed ops by error kind.
	ErrorBreakdown map[ErrorKind]int `json:"error_breakdown,omitempty"`
	// InsufficientData marks a rollup built from an empty window; values are
	// conservative defaults, not observations.
	InsufficientData bool `json:"insufficient_data,omitempty"`
}
