package rest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/logger"
)

var serviceStart = time.Now()

// Monitoring handles GET /monitoring/{action}. The status API is the
// operational side-channel: health, current rollups, dashboard surface,
// sanitized config, open alerts, and a metrics export.
func (h *Handler) Monitoring(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "health":
		h.monitoringHealth(w, r)
	case "metrics":
		h.monitoringMetrics(w, r)
	case "dashboard":
		h.monitoringDashboard(w, r)
	case "config":
		h.monitoringConfig(w, r)
	case "alerts":
		h.monitoringAlerts(w, r)
	case "export":
		h.monitoringExport(w, r)
	default:
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			fmt.Sprintf("unknown monitoring action: %s", action), logger.FromContext(r.Context()))
	}
}

func (h *Handler) monitoringHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := h.repo.Ping(ctx); err != nil {
		dbStatus = "unavailable"
	}

	status := "healthy"
	if dbStatus != "ok" {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"database":       dbStatus,
		"realtime":       string(h.scheduler.Status()),
		"uptime_seconds": int(time.Since(serviceStart).Seconds()),
		"checked_at":     time.Now().UTC(),
	})
}

// entityRollups assembles current aggregates for every entity in the period.
func (h *Handler) entityRollups(ctx context.Context, period models.Period) (map[string]*models.AggregatedMetrics, error) {
	lookback, ok := period.Lookback()
	if !ok {
		return nil, fmt.Errorf("unknown period: %s", period)
	}
	now := time.Now().UTC()
	ids, err := h.repo.Snapshots.ListEntityIDs(ctx, now.Add(-lookback), now)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	out := make(map[string]*models.AggregatedMetrics, len(ids))
	for _, id := range ids {
		agg, err := h.analytics.Aggregate(ctx, id, period)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", id, err)
		}
		out[id] = agg
	}
	return out, nil
}

func periodFromQuery(r *http.Request) models.Period {
	if p := r.URL.Query().Get("period"); p != "" {
		return models.Period(p)
	}
	return models.Period1h
}

func (h *Handler) monitoringMetrics(w http.ResponseWriter, r *http.Request) {
	rollups, err := h.entityRollups(r.Context(), periodFromQuery(r))
	if err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			err.Error(), logger.FromContext(r.Context()))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"period":   periodFromQuery(r),
		"entities": rollups,
	})
}

func (h *Handler) monitoringDashboard(w http.ResponseWriter, r *http.Request) {
	modules := h.aggregator.Modules()
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = string(m)
	}
	sort.Strings(names)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"modules":        names,
		"cache_ttl_sec":  h.cfg.DashboardCacheTTLSec,
		"realtime":       string(h.scheduler.Status()),
		"quick_actions":  []models.QuickActionType{models.ActionSuspendEntity, models.ActionUnsuspendEntity, models.ActionApproveContent, models.ActionRejectContent, models.ActionAcknowledgeAlert, models.ActionResolveAlert},
	})
}

// monitoringConfig exposes runtime tuning values. Nothing secret lives in
// the config, but the database path stays private anyway.
func (h *Handler) monitoringConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"port":                     h.cfg.Port,
		"log_level":                h.cfg.LogLevel,
		"flush_interval_sec":       h.cfg.FlushIntervalSec,
		"flush_batch_size":         h.cfg.FlushBatchSize,
		"retry_queue_max":          h.cfg.RetryQueueMax,
		"alert_eval_interval_sec":  h.cfg.AlertEvalIntervalSec,
		"entity_block_minutes":     h.cfg.EntityBlockMinutes,
		"dashboard_cache_ttl_sec":  h.cfg.DashboardCacheTTLSec,
		"permission_cache_ttl_sec": h.cfg.PermissionCacheTTLSec,
		"rate_limit_per_min":       h.cfg.RateLimitPerMin,
		"rate_limit_burst":         h.cfg.RateLimitBurst,
	})
}

func (h *Handler) monitoringAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := h.repo.Events.ListEvents(ctx, models.AlertActive, 100)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	acked, err := h.repo.Events.ListEvents(ctx, models.AlertAcknowledged, 100)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	blocks, err := h.repo.Blocks.ListActiveBlocks(ctx, time.Now().UTC())
	if err != nil {
		respondRepoError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":        active,
		"acknowledged":  acked,
		"active_blocks": blocks,
		"open_count":    len(active) + len(acked),
	})
}

// monitoringExport emits current entity rollups. With ?format=prometheus the
// body is the line-oriented text exposition format; otherwise JSON.
func (h *Handler) monitoringExport(w http.ResponseWriter, r *http.Request) {
	period := periodFromQuery(r)
	rollups, err := h.entityRollups(r.Context(), period)
	if err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			err.Error(), logger.FromContext(r.Context()))
		return
	}

	if r.URL.Query().Get("format") != "prometheus" {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"period":      period,
			"exported_at": time.Now().UTC(),
			"entities":    rollups,
		})
		return
	}

	ids := make([]string, 0, len(rollups))
	for id := range rollups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	writeGauge := func(name, help string, value func(*models.AggregatedMetrics) float64) {
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", name)
		for _, id := range ids {
			fmt.Fprintf(&b, "%s{entity_id=%q} %g\n", name, id, value(rollups[id]))
		}
	}

	writeGauge("opsdeck_entity_success_rate", "Share of successful operations in the window",
		func(a *models.AggregatedMetrics) float64 { return a.SuccessRate })
	writeGauge("opsdeck_entity_total_ops", "Operations observed in the window",
		func(a *models.AggregatedMetrics) float64 { return float64(a.TotalOps) })
	writeGauge("opsdeck_entity_avg_latency_ms", "Mean operation latency in milliseconds",
		func(a *models.AggregatedMetrics) float64 { return a.AvgLatency })
	writeGauge("opsdeck_entity_p95_latency_ms", "95th percentile operation latency in milliseconds",
		func(a *models.AggregatedMetrics) float64 { return a.P95Latency })
	writeGauge("opsdeck_entity_total_cost", "Summed operation cost in the window",
		func(a *models.AggregatedMetrics) float64 { return a.TotalCost })
	writeGauge("opsdeck_entity_uptime_pct", "Share of operations without availability errors",
		func(a *models.AggregatedMetrics) float64 { return a.UptimePct })

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}
