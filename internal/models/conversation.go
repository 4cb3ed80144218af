package models

import "strings"

// ConversationID derives the identifier of a two-party conversation. The
// participant ids are ordered before joining so both sides compute the same
// value regardless of who initiates.
func ConversationID(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// ConversationParticipant reports whether userID is one of the two
// participants encoded in conversationID.
func ConversationParticipant(conversationID, userID string) bool {
	if conversationID == "" || userID == "" {
		return false
	}
	parts := strings.SplitN(conversationID, "_", 2)
	return len(parts) == 2 && (parts[0] == userID || parts[1] == userID)
}
