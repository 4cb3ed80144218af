package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnInfo describes one registered websocket connection.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Event is the frame pushed to websocket clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub maintains active websocket rooms: one room per conversation for chat
// state pushes, one room per user for personal notifications.
type Hub struct {
	chatRooms    map[string]map[*websocket.Conn]bool
	chatConnInfo map[string]map[*websocket.Conn]ConnInfo
	userRooms    map[string]map[*websocket.Conn]bool
	mu           sync.RWMutex
	logger       zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		chatRooms:    make(map[string]map[*websocket.Conn]bool),
		chatConnInfo: make(map[string]map[*websocket.Conn]ConnInfo),
		userRooms:    make(map[string]map[*websocket.Conn]bool),
		logger:       logger,
	}
}

// AddChatClient registers a websocket connection to a conversation room.
func (h *Hub) AddChatClient(conversationID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.chatRooms[conversationID]; !ok {
		h.chatRooms[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.chatRooms[conversationID][conn] = true
	if _, ok := h.chatConnInfo[conversationID]; !ok {
		h.chatConnInfo[conversationID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.chatConnInfo[conversationID][conn] = info
}

// RemoveChatClient removes a conversation websocket connection.
func (h *Hub) RemoveChatClient(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.chatRooms[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.chatRooms, conversationID)
		}
	}
	if infos, ok := h.chatConnInfo[conversationID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.chatConnInfo, conversationID)
		}
	}
}

// AddUserClient registers a notification connection for a user.
func (h *Hub) AddUserClient(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userRooms[userID]; !ok {
		h.userRooms[userID] = make(map[*websocket.Conn]bool)
	}
	h.userRooms[userID][conn] = true
}

// RemoveUserClient removes a notification connection.
func (h *Hub) RemoveUserClient(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.userRooms[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.userRooms, userID)
		}
	}
}

// BroadcastState pushes a chat state snapshot to every client watching the
// conversation. Dead connections are dropped from the room.
func (h *Hub) BroadcastState(conversationID string, state any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.chatRooms[conversationID]))
	for conn := range h.chatRooms[conversationID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(Event{Type: "state", Payload: state})
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal state event")
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("websocket write error")
			conn.Close()
			h.RemoveChatClient(conversationID, conn)
		}
	}
}

// Notify pushes a personal event to every connection of one user.
func (h *Hub) Notify(userID string, event string, payload any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.userRooms[userID]))
	for conn := range h.userRooms[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	raw, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("marshal notification")
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			h.logger.Warn().Err(err).Str("user_id", userID).Msg("websocket write error")
			conn.Close()
			h.RemoveUserClient(userID, conn)
		}
	}
}

// CloseDialog tells the user's clients to hide the purchase dialog.
func (h *Hub) CloseDialog(userID string) {
	h.Notify(userID, "purchase_dialog_close", nil)
}

// ReopenDialog tells the user's clients to show the purchase dialog again.
func (h *Hub) ReopenDialog(userID string) {
	h.Notify(userID, "purchase_dialog_reopen", nil)
}

// ChatClientCount reports the number of clients in a conversation room.
func (h *Hub) ChatClientCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chatRooms[conversationID])
}
