package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/analytics"
	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/repository"
)

// ModuleSource fetches one dashboard module's data. The user-management,
// moderation, and security summaries come from external collaborators that
// implement this interface; the metrics-facing sources below are built in.
type ModuleSource interface {
	Module() models.DashboardModule
	Fetch(ctx context.Context) (interface{}, error)
}

// SourceFunc adapts a function to ModuleSource.
type SourceFunc struct {
	Name models.DashboardModule
	Fn   func(ctx context.Context) (interface{}, error)
}

func (s SourceFunc) Module() models.DashboardModule { return s.Name }

func (s SourceFunc) Fetch(ctx context.Context) (interface{}, error) { return s.Fn(ctx) }

// EntityOverview pairs an entity's rollup with its forecast.
type EntityOverview struct {
	Aggregate  *models.AggregatedMetrics `json:"aggregate"`
	Prediction *models.PredictionModel   `json:"prediction"`
}

// SystemMetricsSource serves the system-metrics module: 24h rollups for every
// entity seen in the window.
type SystemMetricsSource struct {
	Snapshots repository.SnapshotRepository
	Engine    *analytics.Engine
}

func (s *SystemMetricsSource) Module() models.DashboardModule { return models.ModuleSystemMetrics }

func (s *SystemMetricsSource) Fetch(ctx context.Context) (interface{}, error) {
	now := time.Now().UTC()
	ids, err := s.Snapshots.ListEntityIDs(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	out := make(map[string]*models.AggregatedMetrics, len(ids))
	for _, id := range ids {
		agg, err := s.Engine.Aggregate(ctx, id, models.Period24h)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", id, err)
		}
		out[id] = agg
	}
	return out, nil
}

// AnalyticsSource serves the analytics module: trends and forecasts per entity.
type AnalyticsSource struct {
	Snapshots repository.SnapshotRepository
	Engine    *analytics.Engine
}

func (s *AnalyticsSource) Module() models.DashboardModule { return models.ModuleAnalytics }

func (s *AnalyticsSource) Fetch(ctx context.Context) (interface{}, error) {
	now := time.Now().UTC()
	ids, err := s.Snapshots.ListEntityIDs(ctx, now.Add(-7*24*time.Hour), now)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	type entityAnalytics struct {
		Trend      *models.TrendResult     `json:"trend"`
		Prediction *models.PredictionModel `json:"prediction"`
	}

	out := make(map[string]entityAnalytics, len(ids))
	for _, id := range ids {
		trend, err := s.Engine.AnalyzeTrend(ctx, id, models.MetricSuccessRate, models.Period7d)
		if err != nil {
			return nil, fmt.Errorf("trend %s: %w", id, err)
		}
		prediction, err := s.Engine.Predict(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", id, err)
		}
		out[id] = entityAnalytics{Trend: trend, Prediction: prediction}
	}
	return out, nil
}

// SecurityAlertsSource serves the security-alerts module: open alert events
// and the entity blocks currently in force.
type SecurityAlertsSource struct {
	Events repository.AlertEventRepository
	Blocks repository.BlockRepository
}

func (s *SecurityAlertsSource) Module() models.DashboardModule { return models.ModuleSecurityAlerts }

func (s *SecurityAlertsSource) Fetch(ctx context.Context) (interface{}, error) {
	active, err := s.Events.ListEvents(ctx, models.AlertActive, 50)
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	acked, err := s.Events.ListEvents(ctx, models.AlertAcknowledged, 50)
	if err != nil {
		return nil, fmt.Errorf("list acknowledged events: %w", err)
	}
	blocks, err := s.Blocks.ListActiveBlocks(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	bySeverity := map[models.AlertSeverity]int{}
	for _, e := range active {
		bySeverity[e.Severity]++
	}

	return map[string]interface{}{
		"active":             active,
		"acknowledged":       acked,
		"active_by_severity": bySeverity,
		"entity_blocks":      blocks,
	}, nil
}

// SystemHealthSource serves the system-health module: store reachability plus
// a coarse health grade from the last hour of observations.
type SystemHealthSource struct {
	Snapshots repository.SnapshotRepository
	Engine    *analytics.Engine
	Ping      func(ctx context.Context) error
}

func (s *SystemHealthSource) Module() models.DashboardModule { return models.ModuleSystemHealth }

func (s *SystemHealthSource) Fetch(ctx context.Context) (interface{}, error) {
	storeHealthy := true
	if s.Ping != nil {
		if err := s.Ping(ctx); err != nil {
			storeHealthy = false
		}
	}

	now := time.Now().UTC()
	ids, err := s.Snapshots.ListEntityIDs(ctx, now.Add(-time.Hour), now)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	healthy, degraded := 0, 0
	for _, id := range ids {
		agg, err := s.Engine.Aggregate(ctx, id, models.Period1h)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", id, err)
		}
		if agg.SuccessRate >= 0.9 {
			healthy++
		} else {
			degraded++
		}
	}

	status := "ok"
	if !storeHealthy {
		status = "degraded"
	} else if degraded > healthy {
		status = "degraded"
	}

	return map[string]interface{}{
		"status":            status,
		"store_healthy":     storeHealthy,
		"entities_observed": len(ids),
		"entities_healthy":  healthy,
		"entities_degraded": degraded,
	}, nil
}
