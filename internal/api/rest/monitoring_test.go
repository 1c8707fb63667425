package rest

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

func seedSnapshots(t *testing.T, f *fixture, entityID string, n int, failEvery int) {
	t.Helper()
	now := time.Now().UTC()
	snaps := make([]*models.MetricSnapshot, 0, n)
	for i := 0; i < n; i++ {
		success := failEvery == 0 || (i+1)%failEvery != 0
		snap := &models.MetricSnapshot{
			EntityID:      entityID,
			Timestamp:     now.Add(-time.Duration(n-i) * time.Minute / 2),
			OperationKind: models.OperationRequest,
			Success:       success,
			LatencyMs:     float64(100 + i),
		}
		if !success {
			snap.ErrorKind = models.ErrorKindInternal
		}
		snaps = append(snaps, snap)
	}
	require.NoError(t, f.sqlite.InsertSnapshots(context.Background(), snaps))
}

func TestMonitoringHealth(t *testing.T) {
	f := setupAPI(t)

	rec := f.do(t, http.MethodGet, "/api/v1/monitoring/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["database"])
}

func TestMonitoringUnknownAction(t *testing.T) {
	f := setupAPI(t)

	rec := f.do(t, http.MethodGet, "/api/v1/monitoring/nonsense", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitoringConfigIsSanitized(t *testing.T) {
	f := setupAPI(t)

	rec := f.do(t, http.MethodGet, "/api/v1/monitoring/config", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Contains(t, body, "flush_batch_size")
	assert.NotContains(t, body, "database_path")
}

func TestMonitoringMetrics(t *testing.T) {
	f := setupAPI(t)
	seedSnapshots(t, f, "provider-a", 20, 4)

	rec := f.do(t, http.MethodGet, "/api/v1/monitoring/metrics?period=1h", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Entities map[string]*models.AggregatedMetrics `json:"entities"`
	}
	decode(t, rec, &body)
	require.Contains(t, body.Entities, "provider-a")
	agg := body.Entities["provider-a"]
	assert.Equal(t, 20, agg.TotalOps)
	assert.InDelta(t, 0.75, agg.SuccessRate, 0.001)
}

func TestMonitoringMetricsUnknownPeriod(t *testing.T) {
	f := setupAPI(t)

	rec := f.do(t, http.MethodGet, "/api/v1/monitoring/metrics?period=5y", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitoringExportPrometheusFormat(t *testing.T) {
	f := setupAPI(t)
	seedSnapshots(t, f, "provider-a", 10, 0)

	rec := f.do(t, http.MethodGet, "/api/v1/monitoring/export?format=prometheus", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	body := rec.Body.String()
	assert.Contains(t, body, "# HELP opsdeck_entity_success_rate")
	assert.Contains(t, body, "# TYPE opsdeck_entity_success_rate gauge")
	assert.Contains(t, body, `opsdeck_entity_success_rate{entity_id="provider-a"} 1`)
	assert.Contains(t, body, `opsdeck_entity_total_ops{entity_id="provider-a"} 10`)

	// Every sample line carries the entity label
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		assert.Contains(t, line, `entity_id="provider-a"`)
	}
}

func TestMonitoringExportJSONDefault(t *testing.T) {
	f := setupAPI(t)
	seedSnapshots(t, f, "provider-b", 5, 0)

	rec := f.do(t, http.MethodGet, "/api/v1/monitoring/export", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body struct {
		Entities map[string]*models.AggregatedMetrics `json:"entities"`
	}
	decode(t, rec, &body)
	assert.Contains(t, body.Entities, "provider-b")
}

func TestMonitoringAlerts(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()

	require.NoError(t, f.sqlite.CreateEvent(ctx, &models.AlertEvent{
		RuleID:      "rule-1",
		RuleName:    "high error rate",
		Metric:      models.MetricErrorRate,
		Severity:    models.SeverityCritical,
		EntityID:    "provider-a",
		TriggeredAt: time.Now().UTC(),
		Status:      models.AlertActive,
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/monitoring/alerts", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Active    []models.AlertEvent `json:"active"`
		OpenCount int                 `json:"open_count"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Active, 1)
	assert.Equal(t, 1, body.OpenCount)
}

func TestAnalyticsEndpoints(t *testing.T) {
	f := setupAPI(t)
	seedSnapshots(t, f, "provider-a", 30, 5)

	rec := f.do(t, http.MethodGet, "/api/v1/analytics/provider-a/aggregate?period=24h", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var agg models.AggregatedMetrics
	decode(t, rec, &agg)
	assert.Equal(t, 30, agg.TotalOps)

	rec = f.do(t, http.MethodGet, "/api/v1/analytics/provider-a/trend?metric=error_rate&period=24h", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/analytics/provider-a/trend", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "metric is required")

	rec = f.do(t, http.MethodGet, "/api/v1/analytics/provider-a/prediction", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pred models.PredictionModel
	decode(t, rec, &pred)
	assert.Equal(t, "provider-a", pred.EntityID)
}
