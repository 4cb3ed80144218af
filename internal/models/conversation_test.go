package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationIDOrderIndependent(t *testing.T) {
	require.Equal(t, ConversationID("alice", "bob"), ConversationID("bob", "alice"))
	require.Equal(t, "alice_bob", ConversationID("bob", "alice"))
}

func TestConversationIDEmptyParticipant(t *testing.T) {
	assert.Empty(t, ConversationID("", "bob"))
	assert.Empty(t, ConversationID("alice", ""))
}

func TestConversationParticipant(t *testing.T) {
	id := ConversationID("alice", "bob")
	assert.True(t, ConversationParticipant(id, "alice"))
	assert.True(t, ConversationParticipant(id, "bob"))
	assert.False(t, ConversationParticipant(id, "carol"))
	assert.False(t, ConversationParticipant("", "alice"))
}
