package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSubscriber_Wants(t *testing.T) {
	all := &subscriber{userID: "alice"}
	typed := &subscriber{userID: "alice", sub: Subscription{EventTypes: []string{"error_occurred"}}}

	assert.True(t, all.wants("item_processed"))
	assert.True(t, typed.wants("error_occurred"))
	assert.False(t, typed.wants("item_processed"))

	typed.subscribe(Subscription{})
	assert.True(t, typed.wants("item_processed"), "an empty subscription means everything")
}

func TestHub_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	client := &subscriber{hub: h, send: make(chan []byte, 1), userID: "alice"}
	h.register <- client
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	_, open := <-client.send
	assert.False(t, open, "client channels are closed on shutdown")
}

func TestHub_DeliversOnlyOwnEvents(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	alice := &subscriber{hub: h, send: make(chan []byte, 4), userID: "alice"}
	bob := &subscriber{hub: h, send: make(chan []byte, 4), userID: "bob"}
	h.register <- alice
	h.register <- bob

	h.Publish(&Event{Type: "request_started", UserID: "alice", Timestamp: time.Now()})

	select {
	case msg := <-alice.send:
		var ev map[string]any
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, "request_started", ev["type"])
		assert.NotContains(t, ev, "UserID")
	case <-time.After(time.Second):
		t.Fatal("alice did not receive her event")
	}

	require.Eventually(t, func() bool { return h.Stats().TotalEvents == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, bob.send)
	stats := h.Stats()
	assert.Equal(t, int64(2), stats.PeakClients)
	assert.Equal(t, 2, stats.ConnectedUsers)
}

func TestHub_WebSocket(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, r.URL.Query().Get("user"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(Subscription{EventTypes: []string{"error_occurred"}}))
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 5*time.Millisecond)
	// Let the subscription update land before publishing.
	time.Sleep(50 * time.Millisecond)

	h.Publish(&Event{Type: "item_processed", UserID: "alice", Timestamp: time.Now()})
	h.Publish(&Event{Type: "error_occurred", UserID: "alice", Timestamp: time.Now(), Data: map[string]any{"message": "boom"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "error_occurred", got.Type)
	assert.Equal(t, "boom", got.Data["message"])
}

func TestHub_RejectsAfterShutdown(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	w := httptest.NewRecorder()
	h.Serve(w, httptest.NewRequest("GET", "/", nil), "alice")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHub_DropsSlowClients(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &subscriber{hub: h, send: make(chan []byte), userID: "alice"}
	h.register <- slow
	h.Publish(&Event{Type: "item_processed", UserID: "alice", Timestamp: time.Now()})

	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-slow.send
	assert.False(t, open)
}
