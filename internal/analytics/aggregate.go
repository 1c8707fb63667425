// Package analytics computes rollups, trend fits, and forecasts from raw
// metric snapshots. All computation is pure and deterministic; the Engine only
// adds the store reads and timeouts around it.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/repository"
)

// Conservative defaults reported for an empty window. Cold starts signal
// "insufficient data" instead of raising false alarms.
const (
	defaultSuccessRate = 0.95
	defaultUptimePct   = 99.0
	defaultQuality     = 8.0
)

const defaultStoreTimeout = 10 * time.Second

// Engine reads snapshot history and derives aggregates, trends, and
// predictions on demand. Nothing is cached here; derived values can never
// drift from the snapshot history.
type Engine struct {
	snapshots    repository.SnapshotRepository
	storeTimeout time.Duration
	now          func() time.Time
}

// NewEngine creates an analytics engine over the snapshot store.
func NewEngine(snapshots repository.SnapshotRepository, storeTimeout time.Duration) *Engine {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Engine{
		snapshots:    snapshots,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

func (e *Engine) window(ctx context.Context, entityID string, lookback time.Duration) ([]*models.MetricSnapshot, error) {
	now := e.now().UTC()
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.snapshots.ListSnapshots(ctx, entityID, now.Add(-lookback), now)
}

// Aggregate computes the per-entity rollup for a period.
func (e *Engine) Aggregate(ctx context.Context, entityID string, period models.Period) (*models.AggregatedMetrics, error) {
	lookback, ok := period.Lookback()
	if !ok {
		return nil, fmt.Errorf("unknown aggregation period: %s", period)
	}
	snaps, err := e.window(ctx, entityID, lookback)
	if err != nil {
		return nil, fmt.Errorf("load snapshots for %s: %w", entityID, err)
	}
	return ComputeAggregate(entityID, period, snaps), nil
}

// ComputeAggregate derives the rollup from a snapshot set. Pure.
func ComputeAggregate(entityID string, period models.Period, snaps []*models.MetricSnapshot) *models.AggregatedMetrics {
	agg := &models.AggregatedMetrics{
		EntityID: entityID,
		Period:   period,
	}
	if len(snaps) == 0 {
		agg.SuccessRate = defaultSuccessRate
		agg.UptimePct = defaultUptimePct
		agg.InsufficientData = true
		return agg
	}

	latencies := make([]float64, 0, len(snaps))
	var latencySum, qualitySum, costSum float64
	var qualityCount, up int
	breakdown := make(map[models.ErrorKind]int)

	for _, s := range snaps {
		agg.TotalOps++
		if s.Success {
			agg.SuccessOps++
		} else {
			agg.FailedOps++
			kind := s.ErrorKind
			if kind == models.ErrorKindNone {
				kind = models.ErrorKindInternal
			}
			breakdown[kind]++
		}
		// Availability: timeouts and unavailability count against uptime,
		// application-level failures do not.
		if s.ErrorKind != models.ErrorKindTimeout && s.ErrorKind != models.ErrorKindUnavailable {
			up++
		}
		latencies = append(latencies, s.LatencyMs)
		latencySum += s.LatencyMs
		if s.QualityScore != nil {
			qualitySum += *s.QualityScore
			qualityCount++
		}
		if s.Cost != nil {
			costSum += *s.Cost
		}
	}

	agg.SuccessRate = safeDiv(float64(agg.SuccessOps), float64(agg.TotalOps))
	agg.AvgLatency = safeDiv(latencySum, float64(agg.TotalOps))
	agg.AvgQuality = safeDiv(qualitySum, float64(qualityCount))
	agg.TotalCost = costSum
	agg.UptimePct = safeDiv(float64(up), float64(agg.TotalOps)) * 100

	sort.Float64s(latencies)
	agg.P95Latency = Percentile(latencies, 95)
	agg.P99Latency = Percentile(latencies, 99)
	if len(breakdown) > 0 {
		agg.ErrorBreakdown = breakdown
	}
	return agg
}

// Percentile returns the p-th percentile of a sorted slice using the
// nearest-rank index ceil(p/100 * n) - 1. Returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// MetricValue extracts one metric's value from a snapshot set, in the units
// alert rules are written against (rates as percentages, latency in ms,
// rate_limit_hits as a count). The bool is false when the set carries no data
// for the metric.
func MetricValue(metric models.TrendMetric, snaps []*models.MetricSnapshot) (float64, bool) {
	if len(snaps) == 0 {
		return 0, false
	}
	switch metric {
	case models.MetricSuccessRate:
		success := 0
		for _, s := range snaps {
			if s.Success {
				success++
			}
		}
		return float64(success) / float64(len(snaps)) * 100, true
	case models.MetricErrorRate:
		failed := 0
		for _, s := range snaps {
			if !s.Success {
				failed++
			}
		}
		return float64(failed) / float64(len(snaps)) * 100, true
	case models.MetricLatency:
		var sum float64
		for _, s := range snaps {
			sum += s.LatencyMs
		}
		return sum / float64(len(snaps)), true
	case models.MetricQuality:
		var sum float64
		count := 0
		for _, s := range snaps {
			if s.QualityScore != nil {
				sum += *s.QualityScore
				count++
			}
		}
		if count == 0 {
			return 0, false
		}
		return sum / float64(count), true
	case models.MetricCost:
		var sum float64
		for _, s := range snaps {
			if s.Cost != nil {
				sum += *s.Cost
			}
		}
		return sum, true
	case models.MetricRateLimitHits:
		hits := 0
		for _, s := range snaps {
			if s.ErrorKind == models.ErrorKindRateLimit {
				hits++
			}
		}
		return float64(hits), true
	default:
		return 0, false
	}
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
