package rest

import (
	"encoding/json"
	"net/http"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/logger"
)

// IngestSnapshots handles POST /internal/snapshots. Producers call this once
// per completed operation; a single snapshot or a batch is accepted. The
// buffer absorbs the write and the handler returns immediately.
func (h *Handler) IngestSnapshots(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	var req struct {
		Snapshots []*models.MetricSnapshot `json:"snapshots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"invalid request body", reqID)
		return
	}
	if len(req.Snapshots) == 0 {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed,
			"snapshots array is empty", reqID)
		return
	}

	accepted := 0
	rejected := 0
	for _, snap := range req.Snapshots {
		if snap == nil || !snap.Valid() {
			rejected++
			continue
		}
		h.buffer.Record(snap)
		accepted++
	}

	respondJSON(w, http.StatusAccepted, map[string]int{
		"accepted": accepted,
		"rejected": rejected,
	})
}
