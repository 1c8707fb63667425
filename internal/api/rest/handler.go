package rest

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/opsdeck/opsdeck-backend/internal/alerting"
	"github.com/opsdeck/opsdeck-backend/internal/analytics"
	"github.com/opsdeck/opsdeck-backend/internal/config"
	"github.com/opsdeck/opsdeck-backend/internal/dashboard"
	"github.com/opsdeck/opsdeck-backend/internal/ingest"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/logger"
	"github.com/opsdeck/opsdeck-backend/internal/realtime"
	"github.com/opsdeck/opsdeck-backend/internal/repository"
)

// Handler manages HTTP request handlers
type Handler struct {
	cfg        *config.Config
	buffer     *ingest.Buffer
	analytics  *analytics.Engine
	alerts     *alerting.Engine
	aggregator *dashboard.Aggregator
	dispatcher *dashboard.ActionDispatcher
	scheduler  *realtime.Scheduler
	repo       *repository.Repository
	log        *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	cfg *config.Config,
	buffer *ingest.Buffer,
	analyticsEngine *analytics.Engine,
	alerts *alerting.Engine,
	aggregator *dashboard.Aggregator,
	dispatcher *dashboard.ActionDispatcher,
	scheduler *realtime.Scheduler,
	repo *repository.Repository,
	log *slog.Logger,
) *Handler {
	return &Handler{
		cfg:        cfg,
		buffer:     buffer,
		analytics:  analyticsEngine,
		alerts:     alerts,
		aggregator: aggregator,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		repo:       repo,
		log:        log,
	}
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	// Dashboard
	router.HandleFunc("/dashboard/init", h.InitDashboard).Methods("POST")
	router.HandleFunc("/dashboard/overview", h.DashboardOverview).Methods("GET")
	router.HandleFunc("/dashboard/refresh", h.RefreshDashboard).Methods("POST")
	router.HandleFunc("/dashboard/actions", h.ExecuteAction).Methods("POST")

	// Monitoring status API
	router.HandleFunc("/monitoring/{action}", h.Monitoring).Methods("GET")

	// Analytics
	router.HandleFunc("/analytics/{entityId}/aggregate", h.EntityAggregate).Methods("GET")
	router.HandleFunc("/analytics/{entityId}/trend", h.EntityTrend).Methods("GET")
	router.HandleFunc("/analytics/{entityId}/prediction", h.EntityPrediction).Methods("GET")

	// Alert rules and events
	router.HandleFunc("/alerts/rules", h.ListAlertRules).Methods("GET")
	router.HandleFunc("/alerts/rules", h.CreateAlertRule).Methods("POST")
	router.HandleFunc("/alerts/rules/{id}", h.GetAlertRule).Methods("GET")
	router.HandleFunc("/alerts/rules/{id}", h.UpdateAlertRule).Methods("PUT")
	router.HandleFunc("/alerts/rules/{id}", h.DeleteAlertRule).Methods("DELETE")
	router.HandleFunc("/alerts/events", h.ListAlertEvents).Methods("GET")
	router.HandleFunc("/alerts/events/{id}/acknowledge", h.AcknowledgeAlert).Methods("POST")
	router.HandleFunc("/alerts/events/{id}/resolve", h.ResolveAlert).Methods("POST")

	// Snapshot ingestion for in-process and sidecar producers
	router.HandleFunc("/internal/snapshots", h.IngestSnapshots).Methods("POST")
}

// adminID extracts the acting admin identity from the request. The gateway
// in front of this service authenticates and sets the header.
func adminID(r *http.Request) string {
	if id := r.Header.Get("X-Admin-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("admin_id")
}

// requireAdmin writes a 401 and returns false when no admin identity is
// present.
func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := adminID(r)
	if id == "" {
		respondErrorWithCode(w, http.StatusUnauthorized, ErrCodeUnauthorized,
			"admin identity required", logger.FromContext(r.Context()))
		return "", false
	}
	return id, true
}
