package models

// PredictionModel is a near-term forecast for one entity, regenerated per
// request from the most recent observation window. Never persisted; new
// snapshots invalidate it implicitly.
type PredictionModel struct {
	EntityID             string  `json:"entity_id"`
	PredictedFailureRate float64 `json:"predicted_failure_rate"` // 0..1
	PredictedLatencyMs   float64 `json:"predicted_latency_ms"`
	PredictedQuality     float64 `json:"predicted_quality"` // 0..10
	// RecommendedLoadShare is the fraction of traffic this entity should
	// receive relative to its peers.
	RecommendedLoadShare float64 `json:"recommended_load_share"` // 0..1
	Confidence           float64 `json:"confidence"`             // 0..1
	TrainingSampleSize   int     `json:"training_sample_size"`
}
