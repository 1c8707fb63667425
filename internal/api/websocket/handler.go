package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced at the router layer
	},
}

// UpdateSource hands out live-update subscriptions, normally the realtime
// scheduler.
type UpdateSource interface {
	Subscribe(adminID string, cb realtime.Callback) func()
}

// Handler upgrades dashboard connections and binds them to the admin's
// realtime subscription.
type Handler struct {
	hub     *Hub
	updates UpdateSource
	log     *slog.Logger
}

// NewHandler creates a websocket handler over the hub and update source.
func NewHandler(hub *Hub, updates UpdateSource, log *slog.Logger) *Handler {
	return &Handler{hub: hub, updates: updates, log: log}
}

// ServeWS handles GET /ws?admin_id=... Closing the socket releases the
// subscription.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	adminID := r.URL.Query().Get("admin_id")
	if adminID == "" {
		adminID = r.Header.Get("X-Admin-ID")
	}
	if adminID == "" {
		http.Error(w, "admin_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h.hub, conn, uuid.New().String(), adminID, h.log)
	client.unsubscribe = h.updates.Subscribe(adminID, func(msg models.WebSocketMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			h.log.Error("websocket message marshal failed", "error", err)
			return
		}
		select {
		case client.send <- data:
		default:
			// Slow consumer, drop this update rather than block the feed
		}
	})

	h.hub.register <- client
	go client.writePump()
	go client.readPump()

	h.log.Info("websocket client connected", "client_id", client.id, "admin_id", adminID)
}
