package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

func series(entityID string, n int, success bool, latency float64) []*models.MetricSnapshot {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snaps := make([]*models.MetricSnapshot, 0, n)
	for i := 0; i < n; i++ {
		snaps = append(snaps, snap(entityID, base.Add(time.Duration(i)*time.Minute), success, latency))
	}
	return snaps
}

func TestPredictColdStart(t *testing.T) {
	p := ComputePrediction("e1", series("e1", 9, true, 100))

	assert.Zero(t, p.Confidence)
	assert.Equal(t, 9, p.TrainingSampleSize)
	assert.InDelta(t, 0.05, p.PredictedFailureRate, 1e-9)
	assert.InDelta(t, 0.5, p.RecommendedLoadShare, 1e-9)
	assert.InDelta(t, 8.0, p.PredictedQuality, 1e-9)
}

func TestPredictHealthyEntity(t *testing.T) {
	snaps := series("e1", 60, true, 200)
	q := 9.0
	for _, s := range snaps {
		score := q
		s.QualityScore = &score
	}

	p := ComputePrediction("e1", snaps)

	assert.Zero(t, p.PredictedFailureRate)
	assert.InDelta(t, 200, p.PredictedLatencyMs, 1e-9)
	assert.InDelta(t, 9.0, p.PredictedQuality, 1e-9)
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	// reliable (+0.2), fast (+0.15), high quality (+0.15)
	assert.InDelta(t, 1.0, p.RecommendedLoadShare, 1e-9)
	assert.LessOrEqual(t, p.RecommendedLoadShare, 1.0)
}

func TestPredictFailingEntityClampsShare(t *testing.T) {
	snaps := series("e1", 40, false, 5000)
	q := 3.0
	for _, s := range snaps {
		score := q
		s.QualityScore = &score
	}

	p := ComputePrediction("e1", snaps)

	assert.InDelta(t, 1.0, p.PredictedFailureRate, 1e-9)
	// unreliable (-0.3), slow (-0.2), low quality (-0.2) clamps at 0
	assert.Zero(t, p.RecommendedLoadShare)
	assert.GreaterOrEqual(t, p.RecommendedLoadShare, 0.0)
}

func TestPredictWeightsRecentLatency(t *testing.T) {
	// 30 slow samples followed by 30 fast ones: the weighted forecast must
	// sit well below the plain mean.
	snaps := append(series("e1", 30, true, 1000), series("e1", 30, true, 100)...)
	for i, s := range snaps {
		s.Timestamp = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	}

	p := ComputePrediction("e1", snaps)

	require.Equal(t, 60, p.TrainingSampleSize)
	assert.Less(t, p.PredictedLatencyMs, 550.0)
	assert.Greater(t, p.PredictedLatencyMs, 100.0)
}

func TestPredictFailureRateUsesRecentWindow(t *testing.T) {
	// 40 successes then 24 failures: the 24-sample failure window is all failures.
	snaps := append(series("e1", 40, true, 100), series("e1", 24, false, 100)...)
	for i, s := range snaps {
		s.Timestamp = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	}

	p := ComputePrediction("e1", snaps)
	assert.InDelta(t, 1.0, p.PredictedFailureRate, 1e-9)
}

func TestPredictConfidenceCapsAtOne(t *testing.T) {
	p := ComputePrediction("e1", series("e1", 250, true, 100))
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
}
