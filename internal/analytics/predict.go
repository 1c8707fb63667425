package analytics

import (
	"context"
	"fmt"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

// Cold-start policy: below this many samples the forecast is a fixed
// conservative default with zero confidence, never an extrapolation.
const minPredictionSamples = 10

const (
	failureWindow    = 24 // most recent samples used for the failure forecast
	latencyWindow    = 50 // most recent samples used for the latency forecast
	qualityWindow    = 30 // most recent samples used for the quality forecast
	fullConfidenceAt = 100
)

// Predict forecasts near-term failure rate, latency, and quality for an
// entity from its most recent 7-day window, and recommends a load share.
func (e *Engine) Predict(ctx context.Context, entityID string) (*models.PredictionModel, error) {
	lookback, _ := models.Period7d.Lookback()
	snaps, err := e.window(ctx, entityID, lookback)
	if err != nil {
		return nil, fmt.Errorf("load snapshots for %s: %w", entityID, err)
	}
	return ComputePrediction(entityID, snaps), nil
}

// ComputePrediction derives the forecast from a chronologically ordered
// snapshot set. Pure.
func ComputePrediction(entityID string, snaps []*models.MetricSnapshot) *models.PredictionModel {
	n := len(snaps)
	if n < minPredictionSamples {
		return &models.PredictionModel{
			EntityID:             entityID,
			PredictedFailureRate: 1 - defaultSuccessRate,
			PredictedLatencyMs:   1000,
			PredictedQuality:     defaultQuality,
			RecommendedLoadShare: 0.5,
			Confidence:           0,
			TrainingSampleSize:   n,
		}
	}

	failureRate := recentFailureRate(snaps, failureWindow)
	latency := weightedLatency(snaps, latencyWindow)
	quality := recentQuality(snaps, qualityWindow)

	confidence := float64(n) / fullConfidenceAt
	if confidence > 1 {
		confidence = 1
	}

	return &models.PredictionModel{
		EntityID:             entityID,
		PredictedFailureRate: failureRate,
		PredictedLatencyMs:   latency,
		PredictedQuality:     quality,
		RecommendedLoadShare: recommendLoadShare(failureRate, latency, quality),
		Confidence:           confidence,
		TrainingSampleSize:   n,
	}
}

func tail(snaps []*models.MetricSnapshot, window int) []*models.MetricSnapshot {
	if len(snaps) <= window {
		return snaps
	}
	return snaps[len(snaps)-window:]
}

func recentFailureRate(snaps []*models.MetricSnapshot, window int) float64 {
	recent := tail(snaps, window)
	failed := 0
	for _, s := range recent {
		if !s.Success {
			failed++
		}
	}
	return float64(failed) / float64(len(recent))
}

// weightedLatency averages the most recent latencies with linearly increasing
// weights, so later samples dominate the forecast.
func weightedLatency(snaps []*models.MetricSnapshot, window int) float64 {
	recent := tail(snaps, window)
	var weightedSum, weightTotal float64
	for i, s := range recent {
		weight := float64(i + 1)
		weightedSum += s.LatencyMs * weight
		weightTotal += weight
	}
	return weightedSum / weightTotal
}

func recentQuality(snaps []*models.MetricSnapshot, window int) float64 {
	recent := tail(snaps, window)
	var sum float64
	count := 0
	for _, s := range recent {
		if s.QualityScore != nil {
			sum += *s.QualityScore
			count++
		}
	}
	if count == 0 {
		return defaultQuality
	}
	return sum / float64(count)
}

// recommendLoadShare starts at an even split and shifts per signal:
// reliability, speed, and quality each nudge the share up or down.
func recommendLoadShare(failureRate, latency, quality float64) float64 {
	share := 0.5

	switch {
	case failureRate > 0.15:
		share -= 0.3
	case failureRate > 0.05:
		share -= 0.1
	case failureRate < 0.02:
		share += 0.2
	}

	switch {
	case latency > 3000:
		share -= 0.2
	case latency < 500:
		share += 0.15
	}

	switch {
	case quality < 6.0:
		share -= 0.2
	case quality >= 8.5:
		share += 0.15
	}

	if share < 0 {
		return 0
	}
	if share > 1 {
		return 1
	}
	return share
}
