package models

import "time"

// MessageType distinguishes the kinds of chat messages the realtime store accepts.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeOffer  MessageType = "offer"
	MessageTypeSystem MessageType = "system"
)

// Message represents a chat message in a two-party conversation.
//
// ID is assigned by the realtime store once the document is persisted. An
// optimistic message carries a locally generated id and IsOptimistic=true
// until the confirmed copy arrives on the live stream.
type Message struct {
	ID           string      `json:"id"`
	SenderID     string      `json:"sender_id"`
	ReceiverID   string      `json:"receiver_id"`
	Text         string      `json:"text"`
	MessageType  MessageType `json:"message_type"`
	Timestamp    time.Time   `json:"timestamp"`
	IsRead       bool        `json:"is_read"`
	IsOptimistic bool        `json:"is_optimistic,omitempty"`
}
