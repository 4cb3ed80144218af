package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechat/internal/models"
)

func TestContainerDispatch(t *testing.T) {
	c := NewContainer(State{})

	var seen []State
	c.Subscribe(func(s State) { seen = append(seen, s) })

	c.Dispatch(SetSession{Token: "tok", UserID: "buyer"})
	c.Dispatch(SetBalance{Balance: models.Balance{Available: 42.5, Currency: "INR"}})
	c.Dispatch(SetActiveConversation{ConversationID: "buyer_seller"})

	st := c.State()
	assert.Equal(t, "tok", st.SessionToken)
	assert.Equal(t, "buyer", st.UserID)
	assert.Equal(t, 42.5, st.Balance)
	assert.Equal(t, "INR", st.Currency)
	assert.Equal(t, "buyer_seller", st.ActiveConversation)
	assert.False(t, st.UpdatedAt.IsZero())
	assert.Len(t, seen, 3)
}

func TestClearSessionResetsEverything(t *testing.T) {
	c := NewContainer(State{})
	c.Dispatch(SetSession{Token: "tok", UserID: "buyer"})
	c.Dispatch(SetBalance{Balance: models.Balance{Available: 10}})

	c.Dispatch(ClearSession{})

	st := c.State()
	assert.Empty(t, st.SessionToken)
	assert.Empty(t, st.UserID)
	assert.Zero(t, st.Balance)
	assert.Empty(t, st.ActiveConversation)
}

func TestSetBalanceKeepsCurrencyWhenOmitted(t *testing.T) {
	c := NewContainer(State{Currency: "INR"})
	c.Dispatch(SetBalance{Balance: models.Balance{Available: 5}})
	assert.Equal(t, "INR", c.State().Currency)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	want := State{SessionToken: "tok", UserID: "buyer", Balance: 99, Currency: "INR"}
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.SessionToken, got.SessionToken)
	assert.Equal(t, want.Balance, got.Balance)
}

func TestLoadMissingFileIsZeroState(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, State{}, got)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, State{UserID: "x"}))

	// Truncate it into invalid JSON.
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
