package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tradechat/internal/models"
)

// ErrClientClosed is returned for operations on a closed websocket store client.
var ErrClientClosed = errors.New("realtime: client closed")

type clientFrame struct {
	Action         string          `json:"action"`
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	BeforeID       string          `json:"before_id,omitempty"`
	Limit          int             `json:"limit,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
	MessageIDs     []string        `json:"message_ids,omitempty"`
}

type serverFrame struct {
	Type           string           `json:"type"`
	ID             string           `json:"id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	MessageID      string           `json:"message_id,omitempty"`
	Messages       []models.Message `json:"messages,omitempty"`
	Code           string           `json:"code,omitempty"`
	Error          string           `json:"error,omitempty"`
}

type pendingResult struct {
	frame serverFrame
	err   error
}

// WSClient implements Store over the vendor's websocket stream protocol.
// Requests are correlated by id; subscriptions receive snapshot frames tagged
// with their subscription id until unsubscribed.
type WSClient struct {
	logger zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan pendingResult
	subs    map[string]SnapshotFunc
	closed  bool
}

var _ Store = (*WSClient)(nil)

// Dial connects to the realtime store endpoint and starts the read loop.
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime store: %w", err)
	}

	c := &WSClient{
		logger:  logger,
		conn:    conn,
		pending: make(map[string]chan pendingResult),
		subs:    make(map[string]SnapshotFunc),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	for {
		var frame serverFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.fail(err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *WSClient) dispatch(frame serverFrame) {
	if frame.SubscriptionID != "" {
		c.mu.Lock()
		fn, ok := c.subs[frame.SubscriptionID]
		if ok && frame.Type == "error" {
			// Subscription errors are terminal; drop the registration so no
			// further callbacks fire.
			delete(c.subs, frame.SubscriptionID)
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		if frame.Type == "error" {
			fn(nil, frameError(frame))
			return
		}
		fn(frame.Messages, nil)
		return
	}

	if frame.ID == "" {
		c.logger.Warn().Str("type", frame.Type).Msg("realtime frame without correlation id")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	delete(c.pending, frame.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if frame.Type == "error" {
		ch <- pendingResult{err: frameError(frame)}
		return
	}
	ch <- pendingResult{frame: frame}
}

// fail tears down the connection: every pending request and live subscription
// observes an unavailable error exactly once.
func (c *WSClient) fail(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	subs := c.subs
	c.pending = map[string]chan pendingResult{}
	c.subs = map[string]SnapshotFunc{}
	c.mu.Unlock()

	c.logger.Warn().Err(cause).Msg("realtime connection lost")
	err := &StoreError{Code: CodeUnavailable, Message: cause.Error()}
	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
	for _, fn := range subs {
		fn(nil, err)
	}
	_ = c.conn.Close()
}

// Close shuts the client down. Live subscriptions observe an unavailable error.
func (c *WSClient) Close() error {
	c.fail(ErrClientClosed)
	return nil
}

func (c *WSClient) send(frame clientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *WSClient) request(ctx context.Context, frame clientFrame) (serverFrame, error) {
	frame.ID = uuid.NewString()
	ch := make(chan pendingResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return serverFrame{}, ErrClientClosed
	}
	c.pending[frame.ID] = ch
	c.mu.Unlock()

	if err := c.send(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
		return serverFrame{}, &StoreError{Code: CodeUnavailable, Message: err.Error()}
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
		return serverFrame{}, ctx.Err()
	case res := <-ch:
		return res.frame, res.err
	}
}

type wsSubscription struct {
	client *WSClient
	id     string
	once   sync.Once
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s.id)
		closed := s.client.closed
		s.client.mu.Unlock()
		if !closed {
			_ = s.client.send(clientFrame{Action: "unsubscribe", ID: uuid.NewString(), SubscriptionID: s.id})
		}
	})
}

// Subscribe registers a live window over the conversation. Snapshots and
// terminal subscription errors are delivered through fn on the read loop
// goroutine.
func (c *WSClient) Subscribe(ctx context.Context, conversationID string, limit int, fn SnapshotFunc) (Subscription, error) {
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.subs[id] = fn
	c.mu.Unlock()

	err := c.send(clientFrame{
		Action:         "subscribe",
		ID:             id,
		SubscriptionID: id,
		ConversationID: conversationID,
		Limit:          limit,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, &StoreError{Code: CodeUnavailable, Message: err.Error()}
	}
	return &wsSubscription{client: c, id: id}, nil
}

// FetchBefore issues a one-shot descending query for messages strictly older
// than beforeID.
func (c *WSClient) FetchBefore(ctx context.Context, conversationID, beforeID string, limit int) ([]models.Message, error) {
	frame, err := c.request(ctx, clientFrame{
		Action:         "fetch",
		ConversationID: conversationID,
		BeforeID:       beforeID,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}
	return frame.Messages, nil
}

// Append persists a message and returns the server-assigned id.
func (c *WSClient) Append(ctx context.Context, conversationID string, msg models.Message) (string, error) {
	frame, err := c.request(ctx, clientFrame{
		Action:         "append",
		ConversationID: conversationID,
		Message:        &msg,
	})
	if err != nil {
		return "", err
	}
	if frame.MessageID == "" {
		return "", &StoreError{Code: CodeUnknown, Message: "append result missing message id"}
	}
	return frame.MessageID, nil
}

// MarkRead flags the given messages as read.
func (c *WSClient) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := c.request(ctx, clientFrame{
		Action:         "mark_read",
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	})
	return err
}

func frameError(frame serverFrame) error {
	code := Code(frame.Code)
	switch code {
	case CodePermissionDenied, CodeUnavailable, CodeFailedPrecondition:
	default:
		code = CodeUnknown
	}
	return &StoreError{Code: code, Message: frame.Error}
}
