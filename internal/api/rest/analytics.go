package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/logger"
)

// EntityAggregate handles GET /analytics/{entityId}/aggregate?period=24h
func (h *Handler) EntityAggregate(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityId"]
	period := periodFromQuery(r)
	if _, ok := period.Lookback(); !ok {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"unknown period: "+string(period), logger.FromContext(r.Context()))
		return
	}

	agg, err := h.analytics.Aggregate(r.Context(), entityID, period)
	if err != nil {
		respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError,
			err.Error(), logger.FromContext(r.Context()))
		return
	}
	respondJSON(w, http.StatusOK, agg)
}

// EntityTrend handles GET /analytics/{entityId}/trend?metric=error_rate&period=7d
func (h *Handler) EntityTrend(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())
	entityID := mux.Vars(r)["entityId"]

	metric := models.TrendMetric(r.URL.Query().Get("metric"))
	if metric == "" {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"metric query parameter required", reqID)
		return
	}
	period := periodFromQuery(r)
	if _, ok := period.Lookback(); !ok {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"unknown period: "+string(period), reqID)
		return
	}

	trend, err := h.analytics.AnalyzeTrend(r.Context(), entityID, metric, period)
	if err != nil {
		respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), reqID)
		return
	}
	respondJSON(w, http.StatusOK, trend)
}

// EntityPrediction handles GET /analytics/{entityId}/prediction
func (h *Handler) EntityPrediction(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityId"]

	prediction, err := h.analytics.Predict(r.Context(), entityID)
	if err != nil {
		respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError,
			err.Error(), logger.FromContext(r.Context()))
		return
	}
	respondJSON(w, http.StatusOK, prediction)
}
