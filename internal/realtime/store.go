package realtime

import (
	"context"
	"errors"
	"fmt"

	"tradechat/internal/models"
)

// Code classifies realtime store failures the way the vendor reports them.
type Code string

const (
	CodePermissionDenied   Code = "permission-denied"
	CodeUnavailable        Code = "unavailable"
	CodeFailedPrecondition Code = "failed-precondition"
	CodeUnknown            Code = "unknown"
)

// StoreError is a classified failure from the realtime store.
type StoreError struct {
	Code    Code
	Message string
}

func (e *StoreError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("realtime store error: %s", e.Code)
	}
	return fmt.Sprintf("realtime store error: %s: %s", e.Code, e.Message)
}

// Classify extracts the failure code from err, defaulting to CodeUnknown.
func Classify(err error) Code {
	var se *StoreError
	if errors.As(err, &se) {
		switch se.Code {
		case CodePermissionDenied, CodeUnavailable, CodeFailedPrecondition:
			return se.Code
		}
	}
	return CodeUnknown
}

// UserMessage maps a failure code to the string shown to the user.
func UserMessage(code Code) string {
	switch code {
	case CodePermissionDenied:
		return "You don't have permission to view this chat"
	case CodeUnavailable:
		return "Chat is temporarily unavailable, please try again"
	case CodeFailedPrecondition:
		return "Chat is not ready yet, please try again shortly"
	default:
		return "Something went wrong loading the chat"
	}
}

// SnapshotFunc receives each live window update for a subscription. Messages
// arrive descending by timestamp, at most the subscribed limit. A non-nil err
// is terminal for the subscription.
type SnapshotFunc func(messages []models.Message, err error)

// Subscription is a handle to a live message window.
type Subscription interface {
	// Unsubscribe tears the subscription down. It is safe to call more than
	// once; no callbacks are delivered after it returns.
	Unsubscribe()
}

// Store is the realtime message store consumed by chat sessions. The store is
// external (vendor-owned); this interface covers the subset the engine needs.
type Store interface {
	// Subscribe opens a live window over the most recent limit messages of a
	// conversation, descending by timestamp. The first snapshot is delivered
	// asynchronously via fn.
	Subscribe(ctx context.Context, conversationID string, limit int, fn SnapshotFunc) (Subscription, error)

	// FetchBefore is a one-shot query for up to limit messages strictly older
	// than the message identified by beforeID, descending by timestamp.
	FetchBefore(ctx context.Context, conversationID, beforeID string, limit int) ([]models.Message, error)

	// Append persists a message and returns the server-assigned id. The
	// server assigns the authoritative timestamp.
	Append(ctx context.Context, conversationID string, msg models.Message) (string, error)

	// MarkRead flags the given messages as read.
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
}
