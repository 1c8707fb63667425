package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestClient() *Client {
	return &Client{
		send:        make(chan []byte, 256),
		unsubscribe: func() {},
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())

	assert.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.broadcast)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
}

func TestHubClientRegistration(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	go hub.Run()
	defer hub.Stop()

	assert.Equal(t, 0, hub.ClientCount())

	client := newTestClient()
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubUnregisterReleasesSubscription(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	go hub.Run()
	defer hub.Stop()

	released := make(chan struct{})
	client := newTestClient()
	client.unsubscribe = func() { close(released) }

	hub.register <- client
	hub.unregister <- client

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe not called on unregister")
	}

	// send must be closed so writePump exits
	select {
	case _, ok := <-client.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel left open")
	}
}

func TestHubBroadcastStatus(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	go hub.Run()
	defer hub.Stop()

	client := newTestClient()
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, hub.BroadcastStatus("connected"))

	select {
	case raw := <-client.send:
		var msg models.WebSocketMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "connection_status", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestHubStopDropsClients(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	go hub.Run()

	client := newTestClient()
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())

	assert.Error(t, hub.BroadcastStatus("disconnected"))
}

func TestHubSlowClientDropReleasesSubscription(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	go hub.Run()
	defer hub.Stop()

	released := make(chan struct{})
	client := &Client{
		send:        make(chan []byte, 1),
		unsubscribe: func() { close(released) },
	}
	// Fill the buffer so the next broadcast takes the drop path.
	client.send <- []byte("{}")

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, hub.BroadcastStatus("degraded"))

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe not called when a slow client is dropped")
	}

	assert.Equal(t, 0, hub.ClientCount())

	// Drain the buffered message, then the channel must be closed.
	<-client.send
	select {
	case _, ok := <-client.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel left open")
	}
}
