package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tradechat/internal/models"
)

// State is the persisted application state: who is signed in, their wallet
// view, and which conversation is active. It is a value; mutation happens
// only through actions.
type State struct {
	SessionToken       string    `json:"session_token,omitempty"`
	UserID             string    `json:"user_id,omitempty"`
	Balance            float64   `json:"balance"`
	Currency           string    `json:"currency,omitempty"`
	ActiveConversation string    `json:"active_conversation,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Action is a pure state transition.
type Action interface {
	Apply(State) State
}

// SetSession records a signed-in user.
type SetSession struct {
	Token  string
	UserID string
}

func (a SetSession) Apply(s State) State {
	s.SessionToken = a.Token
	s.UserID = a.UserID
	return s
}

// ClearSession signs the user out and drops everything tied to them.
type ClearSession struct{}

func (ClearSession) Apply(State) State {
	return State{}
}

// SetBalance updates the wallet view.
type SetBalance struct {
	Balance models.Balance
}

func (a SetBalance) Apply(s State) State {
	s.Balance = a.Balance.Available
	if a.Balance.Currency != "" {
		s.Currency = a.Balance.Currency
	}
	return s
}

// SetActiveConversation records which chat the user is looking at; empty
// clears it.
type SetActiveConversation struct {
	ConversationID string
}

func (a SetActiveConversation) Apply(s State) State {
	s.ActiveConversation = a.ConversationID
	return s
}

// Container holds the current state and fans out changes to subscribers.
type Container struct {
	mu    sync.Mutex
	state State
	subs  []func(State)
	now   func() time.Time
}

func NewContainer(initial State) *Container {
	return &Container{state: initial, now: time.Now}
}

// Dispatch applies the action and notifies subscribers with the new state.
func (c *Container) Dispatch(action Action) State {
	c.mu.Lock()
	next := action.Apply(c.state)
	next.UpdatedAt = c.now()
	c.state = next
	subs := make([]func(State), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next
}

// State returns the current snapshot.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers an observer for every dispatched change.
func (c *Container) Subscribe(fn func(State)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// SetBalance satisfies the orchestrator's balance sink.
func (c *Container) SetBalance(balance models.Balance) {
	c.Dispatch(SetBalance{Balance: balance})
}

// Load reads persisted state from path. A missing file yields the zero
// state, not an error.
func Load(path string) (State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("read state file: %w", err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("decode state file: %w", err)
	}
	return s, nil
}

// Save writes state to path atomically via a temp file rename.
func Save(path string, s State) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
