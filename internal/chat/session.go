package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradechat/internal/backend"
	"tradechat/internal/models"
	"tradechat/internal/observability"
	"tradechat/internal/realtime"
)

// DefaultPageSize is the live window and pagination page size.
const DefaultPageSize = 20

// Status is the connection state of a session, driven by subscription
// callbacks. Exactly one value holds at a time.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// MirrorWriter persists confirmed sends to the system of record. Mirror
// writes are best effort: failures are logged, never surfaced.
type MirrorWriter interface {
	StoreMessage(ctx context.Context, req backend.StoreMessageRequest) error
}

// State is an immutable snapshot of a session, safe to hand to observers.
type State struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	Loading        bool             `json:"loading"`
	Sending        bool             `json:"sending"`
	LoadingOlder   bool             `json:"loading_older"`
	HasMore        bool             `json:"has_more"`
	Status         Status           `json:"status"`
	Error          string           `json:"error,omitempty"`
	UnreadCount    int              `json:"unread_count"`
}

// Config carries session dependencies.
type Config struct {
	Store    realtime.Store
	Mirror   MirrorWriter
	PageSize int
	Logger   zerolog.Logger
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Session synchronizes one two-party conversation: a live descending window
// from the realtime store converted to an ascending list, an optimistic
// pending buffer merged in for display, a pagination cursor over older
// messages, and a best-effort backend mirror for confirmed sends.
//
// A session serves exactly one conversation id. Switching conversations means
// closing this session and opening a new one; Close discards the subscription
// and all buffers, and in-flight async work is dropped via a generation
// check.
type Session struct {
	store    realtime.Store
	mirror   MirrorWriter
	pageSize int
	logger   zerolog.Logger
	now      func() time.Time

	selfID string
	peerID string
	convID string

	mu           sync.Mutex
	older        []models.Message // paged-in history, ascending
	window       []models.Message // live window, ascending
	pending      []models.Message // optimistic sends, ascending by creation
	cursor       string           // id of the oldest loaded message
	hasMore      bool
	loading      bool
	loadingOlder bool
	sending      bool
	status       Status
	lastErr      string
	sub          realtime.Subscription
	gen          int
	closed       bool
	onChange     func(State)
}

// NewSession builds a session for the conversation between selfID and peerID.
// If either participant is unknown the session stays idle and sends are
// silent no-ops.
func NewSession(cfg Config, selfID, peerID string) *Session {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	convID := models.ConversationID(selfID, peerID)
	return &Session{
		store:    cfg.Store,
		mirror:   cfg.Mirror,
		pageSize: pageSize,
		logger:   cfg.Logger.With().Str("conversation_id", convID).Logger(),
		now:      now,
		selfID:   selfID,
		peerID:   peerID,
		convID:   convID,
		status:   StatusIdle,
	}
}

// ConversationID returns the session's conversation identifier, empty when
// the participants could not be resolved.
func (s *Session) ConversationID() string { return s.convID }

// SetOnChange registers the state observer. Must be called before Open.
func (s *Session) SetOnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Open subscribes to the live window. With no conversation id the session
// stays idle and no subscription is created.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	if s.convID == "" {
		s.status = StatusIdle
		s.loading = false
		s.mu.Unlock()
		return nil
	}
	s.status = StatusConnecting
	s.loading = true
	s.lastErr = ""
	gen := s.gen
	st, notify := s.stateLocked()
	s.mu.Unlock()
	s.emit(st, notify)

	sub, err := s.store.Subscribe(ctx, s.convID, s.pageSize, func(msgs []models.Message, err error) {
		s.handleSnapshot(gen, msgs, err)
	})

	s.mu.Lock()
	if err != nil {
		s.status = StatusError
		s.lastErr = realtime.UserMessage(realtime.Classify(err))
		s.loading = false
		st, notify := s.stateLocked()
		s.mu.Unlock()
		s.emit(st, notify)
		return fmt.Errorf("subscribe conversation: %w", err)
	}
	if s.closed || s.gen != gen {
		// Torn down while subscribing; release the new subscription.
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Reconnect discards the current subscription and opens a fresh one. It is
// the caller-driven recovery path after a terminal subscription error; there
// is no automatic retry.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	s.gen++
	s.mu.Unlock()
	return s.Open(ctx)
}

// Close tears the session down: the subscription is released and any
// in-flight async callbacks are discarded. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	sub := s.sub
	s.sub = nil
	s.status = StatusIdle
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (s *Session) handleSnapshot(gen int, msgs []models.Message, err error) {
	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	if err != nil {
		observability.IncSnapshot("error")
		s.status = StatusError
		s.lastErr = realtime.UserMessage(realtime.Classify(err))
		s.loading = false
		st, notify := s.stateLocked()
		s.mu.Unlock()
		s.emit(st, notify)
		return
	}

	observability.IncSnapshot("ok")
	window := make([]models.Message, len(msgs))
	for i, m := range msgs {
		if m.Timestamp.IsZero() {
			// Server timestamp not materialized yet; show it as just sent.
			m.Timestamp = s.now()
		}
		window[len(msgs)-1-i] = m
	}
	s.window = window
	if len(s.older) == 0 {
		// Only track the cursor off the live window until history pages are
		// loaded; afterwards the pagination path owns it.
		if len(window) > 0 {
			s.cursor = window[0].ID
		} else {
			s.cursor = ""
		}
		s.hasMore = len(window) == s.pageSize
	} else {
		s.pruneOlderLocked()
	}
	s.status = StatusConnected
	s.lastErr = ""
	s.loading = false
	st, notify := s.stateLocked()
	s.mu.Unlock()
	s.emit(st, notify)
}

// pruneOlderLocked drops history entries whose id re-appeared in the live
// window, preserving the no-duplicate-confirmed-id invariant.
func (s *Session) pruneOlderLocked() {
	if len(s.older) == 0 || len(s.window) == 0 {
		return
	}
	inWindow := make(map[string]struct{}, len(s.window))
	for _, m := range s.window {
		inWindow[m.ID] = struct{}{}
	}
	kept := s.older[:0]
	for _, m := range s.older {
		if _, dup := inWindow[m.ID]; !dup {
			kept = append(kept, m)
		}
	}
	s.older = kept
}

// SendMessage creates an optimistic entry, persists the message to the
// realtime store and, on success, mirrors it to the backend in the
// background. Empty trimmed text or an unresolved conversation is a silent
// no-op by contract; callers validate at their own surface.
func (s *Session) SendMessage(ctx context.Context, text string, msgType models.MessageType) error {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if s.closed || s.convID == "" || s.selfID == "" || s.peerID == "" || text == "" {
		s.mu.Unlock()
		return nil
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	optimistic := models.Message{
		ID:           "local-" + uuid.NewString(),
		SenderID:     s.selfID,
		ReceiverID:   s.peerID,
		Text:         text,
		MessageType:  msgType,
		Timestamp:    s.now(),
		IsOptimistic: true,
	}
	s.pending = append(s.pending, optimistic)
	s.sending = true
	gen := s.gen
	st, notify := s.stateLocked()
	s.mu.Unlock()
	s.emit(st, notify)

	serverID, err := s.store.Append(ctx, s.convID, models.Message{
		SenderID:    optimistic.SenderID,
		ReceiverID:  optimistic.ReceiverID,
		Text:        optimistic.Text,
		MessageType: optimistic.MessageType,
	})

	s.mu.Lock()
	s.removePendingLocked(optimistic.ID)
	s.sending = false
	if err != nil {
		observability.IncMessageSend("error")
		s.lastErr = "Failed to send message"
		st, notify := s.stateLocked()
		s.mu.Unlock()
		s.emit(st, notify)
		return fmt.Errorf("send message: %w", err)
	}
	observability.IncMessageSend("ok")
	s.lastErr = ""
	st, notify = s.stateLocked()
	s.mu.Unlock()
	s.emit(st, notify)

	if s.mirror != nil {
		go s.mirrorWrite(gen, serverID, optimistic)
	}
	return nil
}

// mirrorWrite is the fire-and-forget secondary persistence of a confirmed
// send. Stale writes (session closed or superseded) are discarded.
func (s *Session) mirrorWrite(gen int, serverID string, msg models.Message) {
	s.mu.Lock()
	stale := s.closed || s.gen != gen
	s.mu.Unlock()
	if stale {
		s.logger.Debug().Str("message_id", serverID).Msg("discarding mirror write for torn-down session")
		return
	}

	err := s.mirror.StoreMessage(context.Background(), backend.StoreMessageRequest{
		ChatID:            s.convID,
		SenderID:          msg.SenderID,
		ReceiverID:        msg.ReceiverID,
		Content:           msg.Text,
		MessageType:       string(msg.MessageType),
		ExternalMessageID: serverID,
	})
	if err != nil {
		observability.IncMirrorWriteFailure()
		s.logger.Warn().Err(err).Str("message_id", serverID).Msg("backend mirror write failed")
	}
}

// LoadOlderMessages fetches the next page of history strictly before the
// cursor. Calls while a fetch is in flight, or once history is exhausted,
// are no-ops.
func (s *Session) LoadOlderMessages(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.convID == "" || s.cursor == "" || !s.hasMore || s.loadingOlder {
		s.mu.Unlock()
		return nil
	}
	s.loadingOlder = true
	gen := s.gen
	cursor := s.cursor
	st, notify := s.stateLocked()
	s.mu.Unlock()
	s.emit(st, notify)

	msgs, err := s.store.FetchBefore(ctx, s.convID, cursor, s.pageSize)

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.loadingOlder = false
	if err != nil {
		s.lastErr = "Failed to load older messages"
		st, notify := s.stateLocked()
		s.mu.Unlock()
		s.emit(st, notify)
		return fmt.Errorf("load older messages: %w", err)
	}
	if len(msgs) == 0 {
		s.hasMore = false
		st, notify := s.stateLocked()
		s.mu.Unlock()
		s.emit(st, notify)
		return nil
	}

	observability.IncPageLoaded()
	loaded := make(map[string]struct{}, len(s.older)+len(s.window))
	for _, m := range s.older {
		loaded[m.ID] = struct{}{}
	}
	for _, m := range s.window {
		loaded[m.ID] = struct{}{}
	}
	batch := make([]models.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if _, dup := loaded[m.ID]; dup {
			continue
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = s.now()
		}
		batch = append(batch, m)
	}
	if len(batch) > 0 {
		s.older = append(batch, s.older...)
		s.cursor = batch[0].ID
	}
	s.hasMore = len(msgs) == s.pageSize
	st, notify = s.stateLocked()
	s.mu.Unlock()
	s.emit(st, notify)
	return nil
}

// MarkAsRead flags every unread message addressed to the current user.
func (s *Session) MarkAsRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.convID == "" {
		s.mu.Unlock()
		return nil
	}
	var ids []string
	for _, list := range [][]models.Message{s.older, s.window} {
		for _, m := range list {
			if m.ReceiverID == s.selfID && !m.IsRead {
				ids = append(ids, m.ID)
			}
		}
	}
	gen := s.gen
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if err := s.store.MarkRead(ctx, s.convID, ids); err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	flag := func(list []models.Message) {
		for i := range list {
			if list[i].ReceiverID == s.selfID {
				list[i].IsRead = true
			}
		}
	}
	flag(s.older)
	flag(s.window)
	st, notify := s.stateLocked()
	s.mu.Unlock()
	s.emit(st, notify)
	return nil
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	st, _ := s.stateLocked()
	s.mu.Unlock()
	return st
}

// UnreadCount is derived fresh from the merged list on every call; nothing
// is cached.
func (s *Session) UnreadCount() int {
	return s.State().UnreadCount
}

// stateLocked builds the snapshot and returns the observer to invoke after
// the lock is released.
func (s *Session) stateLocked() (State, func(State)) {
	merged := make([]models.Message, 0, len(s.older)+len(s.window)+len(s.pending))
	merged = append(merged, s.older...)
	merged = append(merged, s.window...)
	merged = append(merged, s.pending...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	unread := 0
	for _, m := range merged {
		if m.ReceiverID == s.selfID && !m.IsRead {
			unread++
		}
	}

	return State{
		ConversationID: s.convID,
		Messages:       merged,
		Loading:        s.loading,
		Sending:        s.sending,
		LoadingOlder:   s.loadingOlder,
		HasMore:        s.hasMore,
		Status:         s.status,
		Error:          s.lastErr,
		UnreadCount:    unread,
	}, s.onChange
}

func (s *Session) emit(st State, fn func(State)) {
	if fn != nil {
		fn(st)
	}
}

func (s *Session) removePendingLocked(id string) {
	for i, m := range s.pending {
		if m.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
