package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gigsync/internal/registry"
	"gigsync/internal/transport"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// session routes channel events into a registry the way the notification
// service does.
type session struct {
	reg *registry.Registry
}

func (s *session) StatusChanged(transport.Status) {}
func (s *session) Connected() { s.reg.Connected() }
func (s *session) Disconnected(error) { s.reg.Disconnected() }
func (s *session) Received(transport.Envelope) {}

func (s *session) Acknowledged(action transport.Action, topic string) {
	s.reg.Acknowledged(action, topic)
}

// readControls reads n control frames and acknowledges each subscribe.
func readControls(t *testing.T, conn *websocket.Conn, n int) []string {
	t.Helper()
	var got []string
	for range n {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ctl transport.Control
		require.NoError(t, json.Unmarshal(data, &ctl))
		got = append(got, string(ctl.Action)+" "+ctl.Topic)

		if ctl.Action == transport.ActionSubscribe {
			ack, _ := json.Marshal(transport.Envelope{Type: transport.TypeSubscribed, Topic: ctl.Topic})
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, ack))
		}
	}
	return got
}

func TestReconnectResubscribesDesiredTopics(t *testing.T) {
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conn, err := upgrader.Upgrade(w, r, nil); err == nil {
			conns <- conn
		}
	}))
	defer srv.Close()

	m := transport.NewManager(transport.Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		BaseBackoff:    5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		LivenessWindow: 5 * time.Second,
		PingInterval:   time.Hour,
	}, nil)
	reg := registry.New(m, nil)
	reg.SetUser("42")
	reg.SetGroups([]string{"7"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, &session{reg: reg}) }()
	defer func() {
		cancel()
		<-done
	}()

	next := func() *websocket.Conn {
		t.Helper()
		select {
		case c := <-conns:
			t.Cleanup(func() { c.Close() })
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("no connection")
			return nil
		}
	}

	first := next()
	want := []string{"subscribe group:7", "subscribe user:42"}
	assert.ElementsMatch(t, want, readControls(t, first, 2))
	require.Eventually(t, func() bool {
		for _, s := range reg.Snapshot() {
			if s.State != registry.StateActive {
				return false
			}
		}
		return len(reg.Snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Drop the connection with no membership change.
	first.Close()

	second := next()
	assert.ElementsMatch(t, want, readControls(t, second, 2))

	// Exactly two: nothing else follows.
	require.NoError(t, second.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := second.ReadMessage()
	assert.Error(t, err)
}
