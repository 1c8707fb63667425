package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

// Percent change below which a series is classified as stable.
const stableBandPercent = 5.0

// AnalyzeTrend fits a least-squares line over hourly buckets of the metric
// and classifies its direction. Deterministic: identical bucketed inputs
// always produce identical results.
func (e *Engine) AnalyzeTrend(ctx context.Context, entityID string, metric models.TrendMetric, timeframe models.Period) (*models.TrendResult, error) {
	lookback, ok := timeframe.Lookback()
	if !ok {
		return nil, fmt.Errorf("unknown trend timeframe: %s", timeframe)
	}
	snaps, err := e.window(ctx, entityID, lookback)
	if err != nil {
		return nil, fmt.Errorf("load snapshots for %s: %w", entityID, err)
	}
	return ComputeTrend(entityID, metric, timeframe, snaps), nil
}

// ComputeTrend buckets snapshots by hour, averages the metric per bucket, and
// fits bucket index vs value. Pure.
func ComputeTrend(entityID string, metric models.TrendMetric, timeframe models.Period, snaps []*models.MetricSnapshot) *models.TrendResult {
	result := &models.TrendResult{
		EntityID:  entityID,
		Metric:    metric,
		Direction: models.TrendStable,
		Timeframe: timeframe,
	}

	points := bucketHourly(metric, snaps)
	result.DataPoints = points
	// A single bucket has no slope to speak of.
	if len(points) < 2 {
		return result
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}

	_, r2 := fitLine(values)
	result.Confidence = clamp01(r2)

	first, last := values[0], values[len(values)-1]
	result.ChangePercent = percentChange(first, last)
	if math.Abs(result.ChangePercent) < stableBandPercent {
		return result
	}

	rising := result.ChangePercent > 0
	if metricFallsWhenImproving(metric) {
		rising = !rising
	}
	if rising {
		result.Direction = models.TrendImproving
	} else {
		result.Direction = models.TrendDeclining
	}
	return result
}

// metricFallsWhenImproving reports metrics where a downward slope is good.
func metricFallsWhenImproving(metric models.TrendMetric) bool {
	switch metric {
	case models.MetricLatency, models.MetricErrorRate, models.MetricCost, models.MetricRateLimitHits:
		return true
	default:
		return false
	}
}

// bucketHourly groups snapshots into hourly buckets and averages the metric
// per bucket. Buckets are returned in chronological order; hours with no
// samples are absent rather than zero-filled.
func bucketHourly(metric models.TrendMetric, snaps []*models.MetricSnapshot) []models.TrendPoint {
	byHour := make(map[time.Time][]*models.MetricSnapshot)
	for _, s := range snaps {
		hour := s.Timestamp.UTC().Truncate(time.Hour)
		byHour[hour] = append(byHour[hour], s)
	}

	hours := make([]time.Time, 0, len(byHour))
	for hour := range byHour {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	points := make([]models.TrendPoint, 0, len(hours))
	for _, hour := range hours {
		bucket := byHour[hour]
		value, ok := MetricValue(metric, bucket)
		if !ok {
			continue
		}
		points = append(points, models.TrendPoint{
			BucketStart: hour,
			Value:       value,
			Samples:     len(bucket),
		})
	}
	return points
}

// fitLine performs an ordinary least-squares fit of index vs value and
// returns the slope and the coefficient of determination. A flat series has
// zero total variance; R² is defined as 0 there so confidence degrades
// instead of dividing by zero.
func fitLine(values []float64) (slope, r2 float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	mean := sumY / n
	var ssTot, ssRes float64
	for i, y := range values {
		predicted := intercept + slope*float64(i)
		ssTot += (y - mean) * (y - mean)
		ssRes += (y - predicted) * (y - predicted)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, 1 - ssRes/ssTot
}

func percentChange(first, last float64) float64 {
	if first == 0 {
		if last == 0 {
			return 0
		}
		// No baseline to express a ratio against; saturate.
		if last > 0 {
			return 100
		}
		return -100
	}
	return (last - first) / math.Abs(first) * 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
