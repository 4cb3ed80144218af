package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechat/internal/chat"
	"tradechat/internal/middleware"
	"tradechat/internal/models"
	"tradechat/internal/realtime"
	"tradechat/internal/state"
	"tradechat/internal/ws"
)

type stubSubscription struct{}

func (stubSubscription) Unsubscribe() {}

// stubStore delivers one scripted snapshot on subscribe and accepts writes.
type stubStore struct {
	snapshot  []models.Message
	appendErr error
	appended  []models.Message
}

func (s *stubStore) Subscribe(_ context.Context, _ string, _ int, fn realtime.SnapshotFunc) (realtime.Subscription, error) {
	fn(s.snapshot, nil)
	return stubSubscription{}, nil
}

func (s *stubStore) FetchBefore(context.Context, string, string, int) ([]models.Message, error) {
	return nil, nil
}

func (s *stubStore) Append(_ context.Context, _ string, msg models.Message) (string, error) {
	if s.appendErr != nil {
		return "", s.appendErr
	}
	s.appended = append(s.appended, msg)
	return "srv-1", nil
}

func (s *stubStore) MarkRead(context.Context, string, []string) error {
	return nil
}

func setupChatRouter(store *stubStore) (*gin.Engine, *chat.Manager) {
	gin.SetMode(gin.TestMode)
	manager := chat.NewManager(chat.Config{Store: store, PageSize: 20, Logger: zerolog.Nop()})
	handler := NewChatHandler(manager, ws.NewHub(zerolog.Nop()), state.NewContainer(state.State{}))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, "buyer")
		c.Next()
	})
	r.POST("/chats/start", handler.StartChat)
	r.GET("/chats/:conversation_id/state", handler.GetState)
	r.POST("/chats/:conversation_id/messages", handler.PostMessage)
	r.POST("/chats/:conversation_id/messages/older", handler.LoadOlder)
	r.POST("/chats/:conversation_id/read", handler.MarkRead)
	r.DELETE("/chats/:conversation_id", handler.CloseChat)
	return r, manager
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStartChatOpensSession(t *testing.T) {
	router, manager := setupChatRouter(&stubStore{})

	rec := postJSON(t, router, "/chats/start", gin.H{"peer_id": "seller"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "buyer_seller", resp.ConversationID)

	_, ok := manager.Get("buyer_seller")
	assert.True(t, ok)
}

func TestStartChatMissingPeer(t *testing.T) {
	router, _ := setupChatRouter(&stubStore{})
	rec := postJSON(t, router, "/chats/start", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStateRequiresParticipant(t *testing.T) {
	router, _ := setupChatRouter(&stubStore{})
	postJSON(t, router, "/chats/start", gin.H{"peer_id": "seller"})

	req := httptest.NewRequest(http.MethodGet, "/chats/alice_bob/state", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetStateUnknownConversation(t *testing.T) {
	router, _ := setupChatRouter(&stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/chats/buyer_seller/state", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageSuccess(t *testing.T) {
	store := &stubStore{}
	router, _ := setupChatRouter(store)
	postJSON(t, router, "/chats/start", gin.H{"peer_id": "seller"})

	rec := postJSON(t, router, "/chats/buyer_seller/messages", gin.H{"content": "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.appended, 1)
	assert.Equal(t, "hello", store.appended[0].Text)
}

func TestPostMessageBlankContentRejected(t *testing.T) {
	store := &stubStore{}
	router, _ := setupChatRouter(store)
	postJSON(t, router, "/chats/start", gin.H{"peer_id": "seller"})

	rec := postJSON(t, router, "/chats/buyer_seller/messages", gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.appended, "the engine is never reached with blank content")
}

func TestMarkReadAndClose(t *testing.T) {
	store := &stubStore{snapshot: []models.Message{
		{ID: "m1", SenderID: "seller", ReceiverID: "buyer", Text: "hi"},
	}}
	router, manager := setupChatRouter(store)
	postJSON(t, router, "/chats/start", gin.H{"peer_id": "seller"})

	rec := postJSON(t, router, "/chats/buyer_seller/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st chat.State
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Zero(t, st.UnreadCount)

	req := httptest.NewRequest(http.MethodDelete, "/chats/buyer_seller", nil)
	del := httptest.NewRecorder()
	router.ServeHTTP(del, req)
	require.Equal(t, http.StatusNoContent, del.Code)

	_, ok := manager.Get("buyer_seller")
	assert.False(t, ok)
}
