package ws

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-backend/internal/observability"
)

// Authenticator resolves an access token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID int, tokenID string, err error)
}

// Membership reports whether a user belongs to a group.
type Membership interface {
	IsMember(ctx context.Context, groupID int, userID int) (bool, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades websocket connections into hub rooms.
type Handler struct {
	hub    *Hub
	auth   Authenticator
	groups Membership
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, auth Authenticator, groups Membership) *Handler {
	return &Handler{hub: hub, auth: auth, groups: groups}
}

// HandleUser joins the caller's personal room, which receives direct-message events.
func (h *Handler) HandleUser(c *gin.Context) {
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	h.serve(c, kindUser, userID, userID)
}

// HandleGroup joins a group room. Only members may join.
func (h *Handler) HandleGroup(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid group id"})
		return
	}
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	member, err := h.groups.IsMember(c.Request.Context(), groupID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
		return
	}
	h.serve(c, kindGroup, groupID, userID)
}

func (h *Handler) authenticate(c *gin.Context) (int, bool) {
	token := c.Query("token")
	if header := c.GetHeader("Authorization"); token == "" && header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
		return 0, false
	}
	userID, _, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
		return 0, false
	}
	return userID, true
}

func (h *Handler) serve(c *gin.Context, kind string, roomID, userID int) {
	ctx, span := otel.Tracer("chat-backend/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ws.kind", kind),
			attribute.Int("ws.room_id", roomID),
			attribute.Int("user.id", userID),
		))
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		Kind:        kind,
		RoomID:      roomID,
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	if kind == kindGroup {
		h.hub.AddGroupClient(roomID, conn, info)
	} else {
		h.hub.AddUserClient(roomID, conn, info)
	}
	observability.IncWSActive(kind)
	log.Debug().Str("conn_id", info.ConnID).Str("kind", kind).Int("room_id", roomID).Int("user_id", userID).Msg("websocket connected")
	h.hub.publishWSEvent(ctx, kind, roomID, info, "ws_connect", "")

	// clients only listen; reads detect the close
	go func() {
		ctx := context.WithoutCancel(ctx)
		var closeReason string
		defer func() {
			if kind == kindGroup {
				h.hub.RemoveGroupClient(roomID, conn)
			} else {
				h.hub.RemoveUserClient(roomID, conn)
			}
			observability.DecWSActive(kind)
			h.hub.publishWSEvent(ctx, kind, roomID, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.publishWSEvent(ctx, kind, roomID, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}
