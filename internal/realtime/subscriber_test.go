package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu    sync.Mutex
	convs []string
}

func (f *fakeNotifier) NotifyPush(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs = append(f.convs, conversationID)
}

func (f *fakeNotifier) notified() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.convs...)
}

type reconnectCounter struct{ n atomic.Int64 }

func (c *reconnectCounter) RecordRealtimeReconnect() { c.n.Add(1) }

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSubscriberConfig(url string) Config {
	return Config{
		URL:           url,
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  50 * time.Millisecond,
	}
}

func TestSubscriber_ForwardsInsertNotifications(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		frames := []string{
			`{"type":"INSERT","table":"messages","new":{"conversation_id":"conv-1"}}`,
			`{"type":"UPDATE","table":"messages","new":{"conversation_id":"conv-2"}}`,
			`{"type":"INSERT","table":"admin_events","new":{"conversation_id":"conv-3"}}`,
			`{"type":"INSERT","table":"messages","new":{}}`,
			`not even json`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	notifier := &fakeNotifier{}
	s := NewSubscriber(testSubscriberConfig(wsURL(srv)), notifier, nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(notifier.notified()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Only inserts carrying a conversation id get through.
	assert.Equal(t, []string{"conv-1", "conv-3"}, notifier.notified())
}

func TestSubscriber_ReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int64
	srv := testServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// Drop the first connection immediately.
			return
		}
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"INSERT","new":{"conversation_id":"conv-after-reconnect"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	notifier := &fakeNotifier{}
	counter := &reconnectCounter{}
	s := NewSubscriber(testSubscriberConfig(wsURL(srv)), notifier, counter, nil)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(notifier.notified()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"conv-after-reconnect"}, notifier.notified())
	assert.GreaterOrEqual(t, counter.n.Load(), int64(1))
}

func TestSubscriber_StopTerminatesLoop(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s := NewSubscriber(testSubscriberConfig(wsURL(srv)), &fakeNotifier{}, nil, nil)
	s.Start(context.Background())

	require.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, s.Connected())
}
