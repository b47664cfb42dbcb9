package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024

	defaultAckTimeout   = 5 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
)

var (
	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyhub",
		Subsystem: "realtime",
		Name:      "connect_attempts_total",
		Help:      "Realtime dial attempts partitioned by result.",
	}, []string{"result"})

	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyhub",
		Subsystem: "realtime",
		Name:      "frames_received_total",
		Help:      "Inbound realtime frames partitioned by event.",
	}, []string{"event"})

	emitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyhub",
		Subsystem: "realtime",
		Name:      "emit_failures_total",
		Help:      "Outbound realtime emits that failed or were not acknowledged.",
	}, []string{"event"})
)

// Config describes the realtime endpoint.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:5000/ws/chat.
	URL          string
	AckTimeout   time.Duration
	DialTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Conn is the process-wide realtime connection. It is constructed once and shared by
// every component that needs live updates.
type Conn struct {
	cfg    Config
	tokens func() string
	bus    *Bus
	logger zerolog.Logger
	schema *jsonschema.Schema
	dialer *websocket.Dialer

	mu      sync.Mutex
	ws      *websocket.Conn
	dialing chan struct{}
	dialErr error
	// life is closed by Disconnect; nil while hard-disconnected.
	life chan struct{}

	writeMu sync.Mutex
	nextAck atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]pendingAck
}

type pendingAck struct {
	event string
	ch    chan ackResult
}

type ackResult struct {
	data json.RawMessage
	err  error
}

// NewConn constructs a lazily connected realtime connection. tokens supplies the bearer
// token presented during the handshake.
func NewConn(cfg Config, tokens func() string, bus *Bus, logger zerolog.Logger) (*Conn, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("realtime url must not be empty")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if tokens == nil {
		tokens = func() string { return "" }
	}
	if bus == nil {
		bus = NewBus(logger)
	}

	schema, err := compileFrameSchema()
	if err != nil {
		return nil, err
	}

	return &Conn{
		cfg:     cfg,
		tokens:  tokens,
		bus:     bus,
		logger:  logger.With().Str("component", "realtime_conn").Logger(),
		schema:  schema,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		pending: make(map[int64]pendingAck),
	}, nil
}

// Bus returns the bus inbound events are republished on.
func (c *Conn) Bus() *Bus {
	return c.bus
}

// Connected reports whether a transport is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// EnsureConnected opens the transport unless it is already open. Concurrent callers
// share a single dial.
func (c *Conn) EnsureConnected(ctx context.Context) error {
	return c.ensure(ctx, nil)
}

// ensure dials unless connected. A non-nil expected restricts the dial to that
// connection lifetime so a reconnect never outlives Disconnect.
func (c *Conn) ensure(ctx context.Context, expected chan struct{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	if wait := c.dialing; wait != nil {
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ws != nil {
			return nil
		}
		if c.dialErr != nil {
			return c.dialErr
		}
		return ErrNotConnected
	}
	if expected != nil && c.life != expected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	done := make(chan struct{})
	c.dialing = done
	if c.life == nil {
		c.life = make(chan struct{})
	}
	life := c.life
	c.mu.Unlock()

	err := c.dial(ctx, life)

	c.mu.Lock()
	c.dialing = nil
	c.dialErr = err
	c.mu.Unlock()
	close(done)

	return err
}

func (c *Conn) dial(ctx context.Context, life chan struct{}) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.tokens())

	ws, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		connectAttempts.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("realtime connect failed")
		c.publish(EventConnectError, map[string]string{"error": err.Error()})
		return fmt.Errorf("dial realtime: %w", err)
	}

	c.mu.Lock()
	if c.life != life {
		// Disconnect ran while dialing.
		c.mu.Unlock()
		_ = ws.Close()
		return ErrNotConnected
	}
	c.ws = ws
	c.mu.Unlock()

	connectAttempts.WithLabelValues("ok").Inc()
	c.logger.Info().Msg("realtime connected")

	closed := make(chan struct{})
	go c.readPump(ws, life, closed)
	go c.pingLoop(ws, closed)

	c.publish(EventConnect, nil)
	return nil
}

func (c *Conn) endpoint() (string, error) {
	parsed, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	if token := c.tokens(); token != "" {
		query := parsed.Query()
		query.Set("token", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// JoinRoom asks the server to add this connection to a room and waits for the
// acknowledgement.
func (c *Conn) JoinRoom(ctx context.Context, kind RoomKind, id string) error {
	event, err := joinEvent(kind)
	if err != nil {
		return err
	}
	if _, err := c.emit(ctx, event, roomData(kind, id)); err != nil {
		c.logger.Warn().Err(err).Str("room_kind", string(kind)).Str("room_id", id).Msg("join room failed")
		return err
	}
	c.logger.Debug().Str("room_kind", string(kind)).Str("room_id", id).Msg("joined room")
	return nil
}

// LeaveRoom asks the server to remove this connection from a room.
func (c *Conn) LeaveRoom(ctx context.Context, kind RoomKind, id string) error {
	event, err := leaveEvent(kind)
	if err != nil {
		return err
	}
	if _, err := c.emit(ctx, event, roomData(kind, id)); err != nil {
		c.logger.Warn().Err(err).Str("room_kind", string(kind)).Str("room_id", id).Msg("leave room failed")
		return err
	}
	c.logger.Debug().Str("room_kind", string(kind)).Str("room_id", id).Msg("left room")
	return nil
}

// Send emits a domain event to a room with the sender identity carried inline. Only
// group rooms accept domain events.
func (c *Conn) Send(ctx context.Context, kind RoomKind, id string, from Sender, payload interface{}) (json.RawMessage, error) {
	if kind != RoomGroup {
		return nil, ErrUnknownRoomKind
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return c.emit(ctx, EventGroupMessage, outboundMessage{GroupID: id, From: from, Payload: raw})
}

func (c *Conn) emit(ctx context.Context, event string, data interface{}) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		emitFailures.WithLabelValues(event).Inc()
		return nil, ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}

	id := c.nextAck.Add(1)
	result := make(chan ackResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = pendingAck{event: event, ch: result}
	c.pendingMu.Unlock()

	if err := c.write(ws, Frame{Event: event, Ack: id, Data: raw}); err != nil {
		c.dropPending(id)
		emitFailures.WithLabelValues(event).Inc()
		return nil, fmt.Errorf("write %s: %w", event, err)
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case res := <-result:
		if res.err != nil {
			emitFailures.WithLabelValues(event).Inc()
		}
		return res.data, res.err
	case <-timer.C:
		c.dropPending(id)
		emitFailures.WithLabelValues(event).Inc()
		return nil, ErrAckTimeout
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *Conn) write(ws *websocket.Conn, frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(frame)
}

func (c *Conn) readPump(ws *websocket.Conn, life, closed chan struct{}) {
	defer close(closed)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	var readErr error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(data)
	}

	c.handleDrop(ws, life, readErr)
}

func (c *Conn) dispatch(data []byte) {
	frame, err := decodeFrame(c.schema, data)
	if err != nil {
		framesReceived.WithLabelValues("invalid").Inc()
		c.logger.Warn().Err(err).Msg("dropping malformed realtime frame")
		return
	}

	if frame.Event == eventAck {
		framesReceived.WithLabelValues(eventAck).Inc()
		c.resolveAck(frame)
		return
	}

	if _, ok := forwarded[frame.Event]; !ok {
		framesReceived.WithLabelValues("ignored").Inc()
		c.logger.Debug().Str("event", frame.Event).Msg("ignoring realtime event")
		return
	}

	framesReceived.WithLabelValues(frame.Event).Inc()
	c.bus.Publish(Event{Name: frame.Event, Data: frame.Data})
}

func (c *Conn) resolveAck(frame Frame) {
	c.pendingMu.Lock()
	waiter, ok := c.pending[frame.Ack]
	delete(c.pending, frame.Ack)
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug().Int64("ack", frame.Ack).Msg("acknowledgement without pending emit")
		return
	}

	var payload ackPayload
	if len(frame.Data) > 0 {
		_ = json.Unmarshal(frame.Data, &payload)
	}
	if payload.OK != nil && !*payload.OK {
		waiter.ch <- ackResult{err: &AckError{Event: waiter.event, Reason: payload.Error}}
		return
	}
	waiter.ch <- ackResult{data: frame.Data}
}

func (c *Conn) dropPending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Conn) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]pendingAck)
	c.pendingMu.Unlock()

	for _, waiter := range pending {
		waiter.ch <- ackResult{err: err}
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, closed chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("realtime ping failed")
				_ = ws.Close()
				return
			}
		case <-closed:
			return
		}
	}
}

func (c *Conn) handleDrop(ws *websocket.Conn, life chan struct{}, readErr error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	active := c.life == life && life != nil
	c.mu.Unlock()

	_ = ws.Close()
	c.failPending(ErrNotConnected)

	reason := "transport closed"
	if readErr != nil {
		reason = readErr.Error()
	}
	c.logger.Warn().Str("reason", reason).Msg("realtime disconnected")
	c.publish(EventDisconnect, map[string]string{"reason": reason})

	if active {
		go c.reconnect(life)
	}
}

func (c *Conn) reconnect(life chan struct{}) {
	delay := c.cfg.ReconnectMin
	for {
		timer := time.NewTimer(delay)
		select {
		case <-life:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
		err := c.ensure(ctx, life)
		cancel()
		if err == nil {
			return
		}

		select {
		case <-life:
			return
		default:
		}

		delay *= 2
		if delay > c.cfg.ReconnectMax {
			delay = c.cfg.ReconnectMax
		}
		c.logger.Debug().Err(err).Dur("retry_in", delay).Msg("realtime reconnect failed")
	}
}

// Disconnect closes the transport, stops reconnecting and fails pending emits. A later
// EnsureConnected opens a fresh connection.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	if c.life != nil {
		close(c.life)
		c.life = nil
	}
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = ws.Close()
		c.logger.Info().Msg("realtime disconnected by client")
		c.publish(EventDisconnect, map[string]string{"reason": "client disconnect"})
	}
	c.failPending(ErrNotConnected)
}

func (c *Conn) publish(name string, data interface{}) {
	evt := Event{Name: name}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			evt.Data = raw
		}
	}
	c.bus.Publish(evt)
}
