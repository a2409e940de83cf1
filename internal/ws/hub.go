package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chat-backend/internal/models"
	"chat-backend/internal/observability"
)

const (
	kindUser  = "user"
	kindGroup = "group"

	writeTimeout = 10 * time.Second
	// sendBuffer is how many events a connection may fall behind before it is dropped.
	sendBuffer = 32
)

var errSlowConsumer = errors.New("send buffer full")

// client owns the write side of one connection. Events are queued on send and
// written by writePump.
type client struct {
	conn *websocket.Conn
	info ConnInfo
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, info ConnInfo) *client {
	return &client{conn: conn, info: info, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

// enqueue reports false when the client is closed or its buffer is full.
func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) writePump(onError func(error)) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				onError(err)
				return
			}
		}
	}
}

// Hub maintains active websocket rooms: one per user and one per group.
type Hub struct {
	userRooms  map[int]map[*websocket.Conn]*client
	groupRooms map[int]map[*websocket.Conn]*client
	mu         sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		userRooms:  make(map[int]map[*websocket.Conn]*client),
		groupRooms: make(map[int]map[*websocket.Conn]*client),
	}
}

func (h *Hub) rooms(kind string) map[int]map[*websocket.Conn]*client {
	if kind == kindGroup {
		return h.groupRooms
	}
	return h.userRooms
}

func (h *Hub) add(kind string, roomID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := h.rooms(kind)
	if _, ok := rooms[roomID]; !ok {
		rooms[roomID] = make(map[*websocket.Conn]*client)
	}
	c := newClient(conn, info)
	rooms[roomID][conn] = c
	if conn != nil {
		go c.writePump(func(err error) { h.drop(kind, roomID, c, err) })
	}
}

func (h *Hub) remove(kind string, roomID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := h.rooms(kind)
	if conns, ok := rooms[roomID]; ok {
		if c, ok := conns[conn]; ok {
			c.stop()
		}
		delete(conns, conn)
		if len(conns) == 0 {
			delete(rooms, roomID)
		}
	}
}

// drop closes a client that failed or fell behind. It is a no-op when the
// connection was already replaced or removed.
func (h *Hub) drop(kind string, roomID int, c *client, cause error) {
	h.mu.Lock()
	current, ok := h.rooms(kind)[roomID][c.conn]
	h.mu.Unlock()
	if !ok || current != c {
		return
	}
	log.Warn().Err(cause).Str("kind", kind).Int("room_id", roomID).Str("conn_id", c.info.ConnID).Msg("websocket write error")
	if c.conn != nil {
		_ = c.conn.Close()
	}
	h.remove(kind, roomID, c.conn)
	h.publishWSEvent(context.Background(), kind, roomID, c.info, "ws_error", cause.Error())
}

// AddUserClient registers a connection in the personal room of a user.
func (h *Hub) AddUserClient(userID int, conn *websocket.Conn, info ConnInfo) {
	h.add(kindUser, userID, conn, info)
}

// RemoveUserClient removes a connection from a user room.
func (h *Hub) RemoveUserClient(userID int, conn *websocket.Conn) {
	h.remove(kindUser, userID, conn)
}

// AddGroupClient registers a connection in a group room.
func (h *Hub) AddGroupClient(groupID int, conn *websocket.Conn, info ConnInfo) {
	h.add(kindGroup, groupID, conn, info)
}

// RemoveGroupClient removes a connection from a group room.
func (h *Hub) RemoveGroupClient(groupID int, conn *websocket.Conn) {
	h.remove(kindGroup, groupID, conn)
}

// PublishToUsers sends event to every connection of the given users.
func (h *Hub) PublishToUsers(event models.MessageEvent, userIDs ...int) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("websocket: failed to encode event")
		return
	}
	seen := make(map[int]bool, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		h.broadcast(kindUser, id, payload)
	}
}

// PublishToGroup sends event to every connection in a group room.
func (h *Hub) PublishToGroup(groupID int, event models.MessageEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("websocket: failed to encode event")
		return
	}
	h.broadcast(kindGroup, groupID, payload)
}

func (h *Hub) broadcast(kind string, roomID int, payload []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms(kind)[roomID]))
	for _, c := range h.rooms(kind)[roomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(payload) {
			h.drop(kind, roomID, c, errSlowConsumer)
		}
	}
}

func (h *Hub) publishWSEvent(ctx context.Context, kind string, roomID int, info ConnInfo, event, reason string) {
	observability.IncWSEvent(kind, event)
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), observability.EventEnvelope{
		EventType:  "ws_events",
		EventName:  event,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        kind,
				"resource_id": roomID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func wsRoutingKey(kind string) string {
	if kind == kindGroup {
		return "ws_events.groups"
	}
	return "ws_events.users"
}
