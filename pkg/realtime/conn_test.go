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
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	frames   []Frame
	tokens   []string
	silent   map[string]bool
	rejected map[string]string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:        t,
		silent:   map[string]bool{},
		rejected: map[string]string{},
	}
	fs.server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http") + "/ws/chat"
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.conns = append(fs.conns, ws)
	fs.tokens = append(fs.tokens, r.URL.Query().Get("token"))
	fs.mu.Unlock()

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		fs.mu.Lock()
		fs.frames = append(fs.frames, frame)
		silent := fs.silent[frame.Event]
		reason, rejected := fs.rejected[frame.Event]
		fs.mu.Unlock()

		if silent || frame.Ack == 0 {
			continue
		}
		data := json.RawMessage(`{"ok":true}`)
		if rejected {
			payload, _ := json.Marshal(map[string]interface{}{"ok": false, "error": reason})
			data = payload
		}
		fs.mu.Lock()
		_ = ws.WriteJSON(Frame{Event: eventAck, Ack: frame.Ack, Data: data})
		fs.mu.Unlock()
	}
}

func (fs *fakeServer) push(frame interface{}) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(fs.t, fs.conns)
	require.NoError(fs.t, fs.conns[len(fs.conns)-1].WriteJSON(frame))
}

func (fs *fakeServer) dropAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, ws := range fs.conns {
		_ = ws.Close()
	}
}

func (fs *fakeServer) connectionCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *fakeServer) events() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, 0, len(fs.frames))
	for _, frame := range fs.frames {
		out = append(out, frame.Event)
	}
	return out
}

func (fs *fakeServer) lastFrame(event string) Frame {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := len(fs.frames) - 1; i >= 0; i-- {
		if fs.frames[i].Event == event {
			return fs.frames[i]
		}
	}
	return Frame{}
}

func newTestConn(t *testing.T, fs *fakeServer, cfg Config) *Conn {
	t.Helper()
	cfg.URL = fs.url()
	conn, err := NewConn(cfg, func() string { return "tok" }, NewBus(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(conn.Disconnect)
	return conn
}

func waitEvent(t *testing.T, ch <-chan Event, name string) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			require.True(t, ok, "bus subscription closed")
			if evt.Name == name {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func TestEnsureConnectedIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	conn := newTestConn(t, fs, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, conn.EnsureConnected(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, conn.EnsureConnected(context.Background()))

	require.Eventually(t, func() bool { return fs.connectionCount() == 1 }, time.Second, 10*time.Millisecond)
	require.True(t, conn.Connected())
	fs.mu.Lock()
	require.Equal(t, []string{"tok"}, fs.tokens)
	fs.mu.Unlock()
}

func TestJoinAndLeaveRoomAwaitAcknowledgement(t *testing.T) {
	fs := newFakeServer(t)
	conn := newTestConn(t, fs, Config{})
	require.NoError(t, conn.EnsureConnected(context.Background()))

	require.NoError(t, conn.JoinRoom(context.Background(), RoomGroup, "g1"))
	require.NoError(t, conn.LeaveRoom(context.Background(), RoomGroup, "g1"))
	require.NoError(t, conn.JoinRoom(context.Background(), RoomUser, "u1"))

	require.Equal(t, []string{EventJoinGroup, EventLeaveGroup, EventJoinUser}, fs.events())
	require.JSONEq(t, `{"user_id":"u1"}`, string(fs.lastFrame(EventJoinUser).Data))
	require.JSONEq(t, `{"group_id":"g1"}`, string(fs.lastFrame(EventLeaveGroup).Data))
}

func TestJoinRoomFailures(t *testing.T) {
	fs := newFakeServer(t)
	conn := newTestConn(t, fs, Config{AckTimeout: 100 * time.Millisecond})

	require.ErrorIs(t, conn.JoinRoom(context.Background(), RoomGroup, "g1"), ErrNotConnected)
	require.ErrorIs(t, conn.JoinRoom(context.Background(), RoomKind("team"), "g1"), ErrUnknownRoomKind)

	require.NoError(t, conn.EnsureConnected(context.Background()))

	fs.mu.Lock()
	fs.silent[EventJoinGroup] = true
	fs.rejected[EventJoinUser] = "forbidden"
	fs.mu.Unlock()

	require.ErrorIs(t, conn.JoinRoom(context.Background(), RoomGroup, "g1"), ErrAckTimeout)

	err := conn.JoinRoom(context.Background(), RoomUser, "u1")
	var ackErr *AckError
	require.ErrorAs(t, err, &ackErr)
	require.Equal(t, "forbidden", ackErr.Reason)
}

func TestSendCarriesSenderIdentity(t *testing.T) {
	fs := newFakeServer(t)
	conn := newTestConn(t, fs, Config{})
	require.NoError(t, conn.EnsureConnected(context.Background()))

	from := Sender{ID: "u1", Name: "Ana", Email: "ana@example.com"}
	_, err := conn.Send(context.Background(), RoomGroup, "g1", from, map[string]string{"text": "hi"})
	require.NoError(t, err)

	frame := fs.lastFrame(EventGroupMessage)
	require.JSONEq(t, `{"group_id":"g1","from":{"id":"u1","name":"Ana","email":"ana@example.com"},"payload":{"text":"hi"}}`, string(frame.Data))

	_, err = conn.Send(context.Background(), RoomUser, "u1", from, nil)
	require.ErrorIs(t, err, ErrUnknownRoomKind)
}

func TestInboundEventsAreRepublishedOnBus(t *testing.T) {
	fs := newFakeServer(t)
	conn := newTestConn(t, fs, Config{})
	events, cancel := conn.Bus().Subscribe(EventNotify, EventGroupMessage)
	defer cancel()

	require.NoError(t, conn.EnsureConnected(context.Background()))

	fs.push(map[string]interface{}{"event": "unknown_event", "data": map[string]string{}})
	fs.push(map[string]interface{}{"ack": "bad"})
	fs.push(Frame{Event: EventNotify, Data: json.RawMessage(`{"type":"debug","message":"hello"}`)})

	evt := waitEvent(t, events, EventNotify)
	require.JSONEq(t, `{"type":"debug","message":"hello"}`, string(evt.Data))
}

func TestReconnectsAfterDropAndPublishesConnect(t *testing.T) {
	fs := newFakeServer(t)
	conn := newTestConn(t, fs, Config{ReconnectMin: 10 * time.Millisecond, ReconnectMax: 50 * time.Millisecond})
	events, cancel := conn.Bus().Subscribe(EventConnect, EventDisconnect)
	defer cancel()

	require.NoError(t, conn.EnsureConnected(context.Background()))
	waitEvent(t, events, EventConnect)

	fs.dropAll()
	waitEvent(t, events, EventDisconnect)
	waitEvent(t, events, EventConnect)

	require.Eventually(t, conn.Connected, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return fs.connectionCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	fs := newFakeServer(t)
	conn := newTestConn(t, fs, Config{ReconnectMin: 10 * time.Millisecond})

	require.NoError(t, conn.EnsureConnected(context.Background()))
	require.Eventually(t, func() bool { return fs.connectionCount() == 1 }, time.Second, 10*time.Millisecond)
	conn.Disconnect()
	require.False(t, conn.Connected())

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, fs.connectionCount())

	require.NoError(t, conn.EnsureConnected(context.Background()))
	require.Eventually(t, func() bool { return fs.connectionCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestDecodeFrameValidatesSchema(t *testing.T) {
	schema, err := compileFrameSchema()
	require.NoError(t, err)

	_, err = decodeFrame(schema, []byte(`{"data":{}}`))
	require.Error(t, err)

	_, err = decodeFrame(schema, []byte(`{"event":"ack","ack":0}`))
	require.Error(t, err)

	frame, err := decodeFrame(schema, []byte(`{"event":"ack","ack":3,"data":{"ok":true}}`))
	require.NoError(t, err)
	require.Equal(t, int64(3), frame.Ack)
}

func TestBusFiltersAndCancels(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	notify, cancelNotify := bus.Subscribe(EventNotify)
	all, cancelAll := bus.Subscribe()
	defer cancelAll()

	bus.Publish(Event{Name: EventSystem})
	bus.Publish(Event{Name: EventNotify})

	require.Equal(t, EventNotify, (<-notify).Name)
	require.Equal(t, EventSystem, (<-all).Name)
	require.Equal(t, EventNotify, (<-all).Name)

	cancelNotify()
	cancelNotify()
	_, ok := <-notify
	require.False(t, ok)
}
