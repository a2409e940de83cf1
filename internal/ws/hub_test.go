package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-backend/internal/models"
)

func TestHubAddAndRemoveUserClient(t *testing.T) {
	hub := NewHub()

	hub.AddUserClient(1, nil, ConnInfo{})
	assert.Len(t, hub.userRooms, 1)

	hub.RemoveUserClient(1, nil)
	assert.Empty(t, hub.userRooms)
}

func TestHubAddAndRemoveGroupClient(t *testing.T) {
	hub := NewHub()

	hub.AddGroupClient(2, nil, ConnInfo{})
	assert.Len(t, hub.groupRooms, 1)

	hub.RemoveGroupClient(2, nil)
	assert.Empty(t, hub.groupRooms)
}

func TestHubPublishToUsers(t *testing.T) {
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.AddUserClient(7, conn, ConnInfo{UserID: 7})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.userRooms[7]) == 1
	}, time.Second, 10*time.Millisecond)

	hub.PublishToUsers(models.MessageEvent{Type: "message_deleted", MessageID: 42}, 7, 7, 8)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.MessageEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "message_deleted", event.Type)
	assert.Equal(t, 42, event.MessageID)
}

func TestHubDropsClientThatFallsBehind(t *testing.T) {
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.AddUserClient(7, conn, ConnInfo{UserID: 7, ConnID: "live"})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.userRooms[7]) == 1
	}, time.Second, 10*time.Millisecond)

	// a nil connection has no writer, so its buffer only fills up
	hub.AddUserClient(7, nil, ConnInfo{UserID: 7, ConnID: "stuck"})

	readEvent := func() int {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var event models.MessageEvent
		require.NoError(t, json.Unmarshal(payload, &event))
		return event.MessageID
	}

	start := time.Now()
	for i := 1; i <= sendBuffer; i++ {
		hub.PublishToUsers(models.MessageEvent{Type: "message_created", MessageID: i}, 7)
		assert.Equal(t, i, readEvent())
	}
	hub.mu.RLock()
	assert.Len(t, hub.userRooms[7], 2)
	hub.mu.RUnlock()

	hub.PublishToUsers(models.MessageEvent{Type: "message_created", MessageID: sendBuffer + 1}, 7)
	assert.Less(t, time.Since(start), writeTimeout)

	hub.mu.RLock()
	_, stuck := hub.userRooms[7][nil]
	live := len(hub.userRooms[7])
	hub.mu.RUnlock()
	assert.False(t, stuck)
	assert.Equal(t, 1, live)
	assert.Equal(t, sendBuffer+1, readEvent())
}
