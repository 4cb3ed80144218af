package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradechat/internal/chat"
	"tradechat/internal/middleware"
	"tradechat/internal/models"
	"tradechat/internal/state"
	"tradechat/internal/ws"
)

// ChatHandler exposes the chat session engine over HTTP.
type ChatHandler struct {
	manager *chat.Manager
	hub     *ws.Hub
	app     *state.Container
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(manager *chat.Manager, hub *ws.Hub, app *state.Container) *ChatHandler {
	return &ChatHandler{manager: manager, hub: hub, app: app}
}

// StartChat opens (or returns) the session with a peer and starts pushing
// state changes to the conversation's websocket room.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	conversationID := models.ConversationID(userID, req.PeerID)
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	session, err := h.manager.Open(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to open chat"})
		return
	}
	session.SetOnChange(func(st chat.State) {
		h.hub.BroadcastState(conversationID, st)
	})
	if h.app != nil {
		h.app.Dispatch(state.SetActiveConversation{ConversationID: conversationID})
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"state":           session.State(),
	})
}

// GetState returns the current session snapshot.
func (h *ChatHandler) GetState(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.State())
}

// PostMessage sends a message into the conversation. Blank content is a
// client error at this surface even though the engine treats it as a no-op.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Content     string `json:"content"`
		MessageType string `json:"message_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	if err := session.SendMessage(c.Request.Context(), req.Content, models.MessageType(req.MessageType)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send message"})
		return
	}
	c.JSON(http.StatusAccepted, session.State())
}

// LoadOlder pages one batch of older messages into the session.
func (h *ChatHandler) LoadOlder(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.LoadOlderMessages(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load older messages"})
		return
	}
	c.JSON(http.StatusOK, session.State())
}

// MarkRead flags inbound messages as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.MarkAsRead(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to mark messages read"})
		return
	}
	c.JSON(http.StatusOK, session.State())
}

// CloseChat tears down the session.
func (h *ChatHandler) CloseChat(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if !models.ConversationParticipant(conversationID, middleware.UserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	h.manager.Close(conversationID)
	if h.app != nil && h.app.State().ActiveConversation == conversationID {
		h.app.Dispatch(state.SetActiveConversation{})
	}
	c.Status(http.StatusNoContent)
}

// session resolves the conversation from the path and enforces that the
// caller is one of its participants.
func (h *ChatHandler) session(c *gin.Context) (*chat.Session, bool) {
	conversationID := c.Param("conversation_id")
	if !models.ConversationParticipant(conversationID, middleware.UserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return nil, false
	}
	session, ok := h.manager.Get(conversationID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not open"})
		return nil, false
	}
	return session, true
}
