package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechat/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// testServer scripts the store side of the stream protocol. Each incoming
// frame is handed to respond, which writes whatever frames the scenario
// needs.
type testServer struct {
	t       *testing.T
	srv     *httptest.Server
	respond func(conn *websocket.Conn, frame map[string]any)

	mu     sync.Mutex
	frames []map[string]any
	conns  []*websocket.Conn
}

func newTestServer(t *testing.T, respond func(conn *websocket.Conn, frame map[string]any)) *testServer {
	ts := &testServer{t: t, respond: respond}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			ts.mu.Lock()
			ts.frames = append(ts.frames, frame)
			ts.mu.Unlock()
			if ts.respond != nil {
				ts.respond(conn, frame)
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

// closeClientConns closes the upgraded websocket connections directly:
// httptest's CloseClientConnections no longer tracks hijacked connections.
func (ts *testServer) closeClientConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		c.Close()
	}
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) received(action string) []map[string]any {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []map[string]any
	for _, f := range ts.frames {
		if f["action"] == action {
			out = append(out, f)
		}
	}
	return out
}

func dialTest(t *testing.T, ts *testServer) *WSClient {
	t.Helper()
	client, err := Dial(context.Background(), ts.url(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func writeFrame(conn *websocket.Conn, frame map[string]any) {
	raw, _ := json.Marshal(frame)
	conn.WriteMessage(websocket.TextMessage, raw)
}

func TestWSClientSubscribeDeliversSnapshots(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, frame map[string]any) {
		if frame["action"] == "subscribe" {
			writeFrame(conn, map[string]any{
				"type":            "snapshot",
				"subscription_id": frame["subscription_id"],
				"messages": []map[string]any{
					{"id": "m2", "sender_id": "seller", "receiver_id": "buyer", "text": "newer"},
					{"id": "m1", "sender_id": "buyer", "receiver_id": "seller", "text": "older"},
				},
			})
		}
	})
	client := dialTest(t, ts)

	snapshots := make(chan []models.Message, 1)
	sub, err := client.Subscribe(context.Background(), "buyer_seller", 20, func(msgs []models.Message, err error) {
		require.NoError(t, err)
		snapshots <- msgs
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case msgs := <-snapshots:
		require.Len(t, msgs, 2)
		assert.Equal(t, "m2", msgs[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestWSClientSubscriptionErrorIsTerminal(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, frame map[string]any) {
		if frame["action"] == "subscribe" {
			writeFrame(conn, map[string]any{
				"type":            "error",
				"subscription_id": frame["subscription_id"],
				"code":            "permission-denied",
				"error":           "not a participant",
			})
			// A frame after the terminal error must be dropped.
			writeFrame(conn, map[string]any{
				"type":            "snapshot",
				"subscription_id": frame["subscription_id"],
				"messages":        []map[string]any{{"id": "m1"}},
			})
		}
	})
	client := dialTest(t, ts)

	var mu sync.Mutex
	var calls []error
	_, err := client.Subscribe(context.Background(), "buyer_seller", 20, func(_ []models.Message, err error) {
		mu.Lock()
		calls = append(calls, err)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1, "no callbacks after the terminal error")
	assert.Equal(t, CodePermissionDenied, Classify(calls[0]))
}

func TestWSClientAppend(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, frame map[string]any) {
		if frame["action"] == "append" {
			writeFrame(conn, map[string]any{
				"type":       "result",
				"id":         frame["id"],
				"message_id": "srv-42",
			})
		}
	})
	client := dialTest(t, ts)

	id, err := client.Append(context.Background(), "buyer_seller", models.Message{
		SenderID: "buyer", ReceiverID: "seller", Text: "hello", MessageType: models.MessageTypeText,
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-42", id)
}

func TestWSClientAppendMissingID(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, frame map[string]any) {
		if frame["action"] == "append" {
			writeFrame(conn, map[string]any{"type": "result", "id": frame["id"]})
		}
	})
	client := dialTest(t, ts)

	_, err := client.Append(context.Background(), "buyer_seller", models.Message{Text: "x"})
	require.Error(t, err)
}

func TestWSClientFetchBefore(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, frame map[string]any) {
		if frame["action"] == "fetch" {
			writeFrame(conn, map[string]any{
				"type": "result",
				"id":   frame["id"],
				"messages": []map[string]any{
					{"id": "m2", "text": "b"},
					{"id": "m1", "text": "a"},
				},
			})
		}
	})
	client := dialTest(t, ts)

	msgs, err := client.FetchBefore(context.Background(), "buyer_seller", "m3", 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	fetches := ts.received("fetch")
	require.Len(t, fetches, 1)
	assert.Equal(t, "m3", fetches[0]["before_id"])
}

func TestWSClientRequestErrorFrame(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, frame map[string]any) {
		if frame["action"] == "fetch" {
			writeFrame(conn, map[string]any{
				"type":  "error",
				"id":    frame["id"],
				"code":  "failed-precondition",
				"error": "index building",
			})
		}
	})
	client := dialTest(t, ts)

	_, err := client.FetchBefore(context.Background(), "buyer_seller", "m1", 20)
	require.Error(t, err)
	assert.Equal(t, CodeFailedPrecondition, Classify(err))
}

func TestWSClientMarkReadEmptyIsNoOp(t *testing.T) {
	ts := newTestServer(t, nil)
	client := dialTest(t, ts)

	require.NoError(t, client.MarkRead(context.Background(), "buyer_seller", nil))
	assert.Empty(t, ts.received("mark_read"))
}

func TestWSClientRequestContextCancel(t *testing.T) {
	ts := newTestServer(t, nil) // never responds
	client := dialTest(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.FetchBefore(ctx, "buyer_seller", "m1", 20)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWSClientConnectionLossFailsSubscribers(t *testing.T) {
	ts := newTestServer(t, nil)
	client := dialTest(t, ts)

	errs := make(chan error, 1)
	_, err := client.Subscribe(context.Background(), "buyer_seller", 20, func(_ []models.Message, err error) {
		if err != nil {
			errs <- err
		}
	})
	require.NoError(t, err)

	ts.closeClientConns()

	select {
	case err := <-errs:
		assert.Equal(t, CodeUnavailable, Classify(err))
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never saw the connection loss")
	}

	// Post-failure operations fail fast.
	_, err = client.Append(context.Background(), "buyer_seller", models.Message{Text: "x"})
	require.Error(t, err)
}

func TestWSClientUnsubscribeStopsCallbacks(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, frame map[string]any) {
		if frame["action"] == "subscribe" {
			writeFrame(conn, map[string]any{
				"type":            "snapshot",
				"subscription_id": frame["subscription_id"],
				"messages":        []map[string]any{},
			})
		}
	})
	client := dialTest(t, ts)

	count := 0
	var mu sync.Mutex
	sub, err := client.Subscribe(context.Background(), "buyer_seller", 20, func([]models.Message, error) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	sub.Unsubscribe()

	require.Eventually(t, func() bool {
		return len(ts.received("unsubscribe")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
