package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/opsdeck/opsdeck-backend/internal/alerting"
	"github.com/opsdeck/opsdeck-backend/internal/dashboard"
	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/logger"
)

type dashboardRequest struct {
	Modules []string `json:"modules"`
}

func parseModules(raw []string) []models.DashboardModule {
	out := make([]models.DashboardModule, 0, len(raw))
	for _, m := range raw {
		m = strings.TrimSpace(m)
		if m != "" {
			out = append(out, models.DashboardModule(m))
		}
	}
	return out
}

// respondDashboardError maps aggregator sentinel errors onto API codes.
func respondDashboardError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := logger.FromContext(r.Context())
	switch {
	case errors.Is(err, dashboard.ErrUnknownModule):
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), reqID)
	case errors.Is(err, dashboard.ErrPermissionDenied):
		respondErrorWithCode(w, http.StatusForbidden, ErrCodeForbidden, err.Error(), reqID)
	case errors.Is(err, dashboard.ErrUnknownAction):
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), reqID)
	case errors.Is(err, alerting.ErrInvalidTransition):
		respondErrorWithCode(w, http.StatusConflict, ErrCodeConflict, err.Error(), reqID)
	case errors.Is(err, alerting.ErrEventNotFound):
		respondErrorWithCode(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), reqID)
	default:
		respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), reqID)
	}
}

// InitDashboard handles POST /dashboard/init. First load for an admin
// session: assembles the permission-scoped snapshot and warms the cache.
func (h *Handler) InitDashboard(w http.ResponseWriter, r *http.Request) {
	admin, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req dashboardRequest
	if r.Body != nil {
		// Empty body means all modules
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	snap, err := h.aggregator.Aggregate(r.Context(), admin, parseModules(req.Modules), false)
	if err != nil {
		respondDashboardError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// DashboardOverview handles GET /dashboard/overview?modules=a,b
func (h *Handler) DashboardOverview(w http.ResponseWriter, r *http.Request) {
	admin, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var raw []string
	if q := r.URL.Query().Get("modules"); q != "" {
		raw = strings.Split(q, ",")
	}

	snap, err := h.aggregator.Aggregate(r.Context(), admin, parseModules(raw), false)
	if err != nil {
		respondDashboardError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// RefreshDashboard handles POST /dashboard/refresh. Without force it serves
// from cache inside the TTL; with force it recomputes and replaces the
// cached snapshot.
func (h *Handler) RefreshDashboard(w http.ResponseWriter, r *http.Request) {
	admin, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req struct {
		dashboardRequest
		Force bool `json:"force"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	snap, err := h.aggregator.Aggregate(r.Context(), admin, parseModules(req.Modules), req.Force)
	if err != nil {
		respondDashboardError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ExecuteAction handles POST /dashboard/actions
func (h *Handler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	admin, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req struct {
		Action string            `json:"action"`
		Params map[string]string `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"invalid request body", logger.FromContext(r.Context()))
		return
	}

	result, err := h.dispatcher.Execute(r.Context(), admin, models.QuickActionType(req.Action), req.Params)
	if err != nil {
		respondDashboardError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
