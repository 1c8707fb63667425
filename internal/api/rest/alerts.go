package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/logger"
)

func respondRepoError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := logger.FromContext(r.Context())
	if strings.Contains(err.Error(), "not found") {
		respondErrorWithCode(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), reqID)
		return
	}
	respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), reqID)
}

// ListAlertRules handles GET /alerts/rules?enabled=true
func (h *Handler) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	rules, err := h.repo.Rules.ListRules(r.Context(), enabledOnly)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateAlertRule handles POST /alerts/rules
func (h *Handler) CreateAlertRule(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	var rule models.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body", reqID)
		return
	}
	if !rule.Valid() {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed,
			"rule is missing required fields for its threshold kind", reqID)
		return
	}

	if err := h.repo.Rules.CreateRule(r.Context(), &rule); err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, &rule)
}

// GetAlertRule handles GET /alerts/rules/{id}
func (h *Handler) GetAlertRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.Rules.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// UpdateAlertRule handles PUT /alerts/rules/{id}
func (h *Handler) UpdateAlertRule(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	var rule models.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body", reqID)
		return
	}
	rule.ID = mux.Vars(r)["id"]
	if !rule.Valid() {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed,
			"rule is missing required fields for its threshold kind", reqID)
		return
	}

	if err := h.repo.Rules.UpdateRule(r.Context(), &rule); err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &rule)
}

// DeleteAlertRule handles DELETE /alerts/rules/{id}
func (h *Handler) DeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Rules.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "alert rule deleted"})
}

// ListAlertEvents handles GET /alerts/events?status=active&limit=50
func (h *Handler) ListAlertEvents(w http.ResponseWriter, r *http.Request) {
	status := models.AlertStatus(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	events, err := h.repo.Events.ListEvents(r.Context(), status, limit)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// AcknowledgeAlert handles POST /alerts/events/{id}/acknowledge
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	admin, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	event, err := h.alerts.Acknowledge(r.Context(), mux.Vars(r)["id"], admin)
	if err != nil {
		respondDashboardError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, event)
}

// ResolveAlert handles POST /alerts/events/{id}/resolve
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	admin, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	event, err := h.alerts.Resolve(r.Context(), mux.Vars(r)["id"], admin, req.Notes)
	if err != nil {
		respondDashboardError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, event)
}
