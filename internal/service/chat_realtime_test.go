package service

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
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

// slowAckServer acknowledges every emit after ackDelay and records the events it saw.
type slowAckServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	ackDelay time.Duration

	mu     sync.Mutex
	events []string
}

func newSlowAckServer(t *testing.T, ackDelay time.Duration) *slowAckServer {
	t.Helper()
	s := &slowAckServer{ackDelay: ackDelay}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *slowAckServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/chat"
}

func (s *slowAckServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var writeMu sync.Mutex
	for {
		var frame realtime.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		s.mu.Lock()
		s.events = append(s.events, frame.Event)
		s.mu.Unlock()

		if frame.Ack == 0 {
			continue
		}
		ack := frame.Ack
		time.AfterFunc(s.ackDelay, func() {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = ws.WriteJSON(realtime.Frame{Event: "ack", Ack: ack, Data: json.RawMessage(`{"ok":true}`)})
		})
	}
}

func (s *slowAckServer) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, got := range s.events {
		if got == event {
			n++
		}
	}
	return n
}

func TestChatSessionJoinsOnceOnFreshConnection(t *testing.T) {
	server := newSlowAckServer(t, 100*time.Millisecond)
	logger := zerolog.Nop()
	conn, err := realtime.NewConn(realtime.Config{
		URL:          server.url(),
		AckTimeout:   2 * time.Second,
		ReconnectMin: 20 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}, func() string { return "token" }, realtime.NewBus(logger), logger)
	require.NoError(t, err)
	t.Cleanup(conn.Disconnect)

	chats := NewChatService(newFakeChatBackend(), conn, staticIdentity{user: testUser, ok: true}, NewBlobStore(), ChatSessionConfig{}, newValidator(), logger)
	t.Cleanup(func() { chats.Shutdown(context.Background()) })

	session, err := chats.Create(context.Background(), "g1")
	require.NoError(t, err)
	require.Equal(t, 1, server.count(realtime.EventJoinGroup))

	// The connect event raced the in-flight join; give any rejoin time to land.
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, 1, server.count(realtime.EventJoinGroup))
	require.Equal(t, "g1", session.Snapshot().GroupID)
}
