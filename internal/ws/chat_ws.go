package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"tradechat/internal/chat"
	"tradechat/internal/middleware"
	"tradechat/internal/models"
	"tradechat/internal/observability"
)

// ChatWebSocketHandler upgrades chat watchers. Each connected client
// receives the current session state on connect and a fresh snapshot on
// every change.
type ChatWebSocketHandler struct {
	hub       *Hub
	manager   *chat.Manager
	jwtSecret string
}

func NewChatWebSocketHandler(hub *Hub, manager *chat.Manager, jwtSecret string) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{hub: hub, manager: manager, jwtSecret: jwtSecret}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client in the
// conversation room.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("tradechat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerOrQueryToken(c)
	claims, err := middleware.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if !models.ConversationParticipant(conversationID, claims.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for chat"})
		return
	}

	session, ok := h.manager.Get(conversationID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not open"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      claims.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddChatClient(conversationID, conn, info)
	observability.IncWSActive("chat")
	observability.IncWSEvent("chat", "ws_connect")

	// New watchers get the current state immediately instead of waiting for
	// the next change.
	h.sendState(conn, session.State())

	go func() {
		defer func() {
			h.hub.RemoveChatClient(conversationID, conn)
			observability.DecWSActive("chat")
			observability.IncWSEvent("chat", "ws_disconnect")
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *ChatWebSocketHandler) sendState(conn *websocket.Conn, state chat.State) {
	conn.WriteJSON(Event{Type: "state", Payload: state})
}

// NotificationWebSocketHandler upgrades personal notification connections.
type NotificationWebSocketHandler struct {
	hub       *Hub
	jwtSecret string
}

func NewNotificationWebSocketHandler(hub *Hub, jwtSecret string) *NotificationWebSocketHandler {
	return &NotificationWebSocketHandler{hub: hub, jwtSecret: jwtSecret}
}

// Handle upgrades the connection and registers it in the user's room.
func (h *NotificationWebSocketHandler) Handle(c *gin.Context) {
	token := bearerOrQueryToken(c)
	claims, err := middleware.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h.hub.AddUserClient(claims.UserID, conn)
	observability.IncWSActive("notifications")
	observability.IncWSEvent("notifications", "ws_connect")

	go func() {
		defer func() {
			h.hub.RemoveUserClient(claims.UserID, conn)
			observability.DecWSActive("notifications")
			observability.IncWSEvent("notifications", "ws_disconnect")
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func bearerOrQueryToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return c.Query("token")
}
