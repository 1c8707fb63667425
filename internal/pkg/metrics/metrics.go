// Package metrics provides Prometheus self-instrumentation for the OpsDeck
// backend (ingestion, alerting, dashboard cache, WebSocket). Scrapeable at
// /metrics; dashboards and runbooks can rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "opsdeck"

var (
	// HTTPRequestTotal counts requests by method, path, status.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// SnapshotsBufferedTotal counts snapshots accepted by the ingestion buffer.
	SnapshotsBufferedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_buffered_total",
			Help:      "Total number of metric snapshots accepted for buffering.",
		},
	)

	// SnapshotsFlushedTotal counts snapshots successfully written to the store.
	SnapshotsFlushedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_flushed_total",
			Help:      "Total number of metric snapshots flushed to the persistent store.",
		},
	)

	// SnapshotsDroppedTotal counts snapshots dropped by the bounded retry queue.
	SnapshotsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_dropped_total",
			Help:      "Total number of snapshots dropped after the per-entity retry bound was exceeded.",
		},
	)

	// FlushFailuresTotal counts failed batch writes (retried next cycle).
	FlushFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Total number of failed snapshot batch writes.",
		},
	)

	// AlertEventsOpenedTotal counts alert events created, by severity.
	AlertEventsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_events_opened_total",
			Help:      "Total number of alert events opened, labeled by severity.",
		},
		[]string{"severity"},
	)

	// AlertEvalDurationSeconds times one full rule-evaluation pass.
	AlertEvalDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_eval_duration_seconds",
			Help:      "Duration of one alert rule evaluation pass in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	// DashboardCacheHitsTotal counts dashboard cache hits.
	DashboardCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_cache_hits_total",
			Help:      "Total number of dashboard cache hits.",
		},
	)

	// DashboardCacheMissesTotal counts dashboard cache misses.
	DashboardCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_cache_misses_total",
			Help:      "Total number of dashboard cache misses.",
		},
	)

	// WebSocketConnectionsActive is current number of WebSocket clients.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket connections.",
		},
	)
)
