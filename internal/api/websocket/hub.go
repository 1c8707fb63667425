// Package websocket bridges realtime dashboard updates onto gorilla
// websocket sessions. Each connection belongs to one admin; the realtime
// scheduler owns the cadences and the hub owns connection lifecycle.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/metrics"
)

// Hub tracks active connections and serializes register/unregister through
// its run loop.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	log *slog.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub bound to ctx.
func NewHub(ctx context.Context, log *slog.Logger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		log:        log,
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run processes client lifecycle events until the hub context ends.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WebSocketConnectionsActive.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			registered := h.clients[client]
			if registered {
				delete(h.clients, client)
				metrics.WebSocketConnectionsActive.Dec()
			}
			h.mu.Unlock()
			if registered {
				// Release the subscription before closing send so the
				// realtime feed stops delivering into it.
				client.unsubscribe()
				close(client.send)
			}

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client buffer full, drop the connection. Release the
					// subscription first so the realtime feed stops
					// delivering into the closed channel.
					delete(h.clients, client)
					client.unsubscribe()
					close(client.send)
					metrics.WebSocketConnectionsActive.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends the run loop and drops every connection.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		client.unsubscribe()
		close(client.send)
		metrics.WebSocketConnectionsActive.Dec()
	}
}

// BroadcastStatus pushes a connection-status notice to every client,
// regardless of admin.
func (h *Hub) BroadcastStatus(status string) error {
	msg := models.WebSocketMessage{
		Type:      "connection_status",
		Data:      map[string]string{"status": status},
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
