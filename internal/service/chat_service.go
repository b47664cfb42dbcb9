package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/observability"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

const chatKeepAlive = 30 * time.Second

// ErrChatSessionNotFound indicates an unknown chat session id.
var ErrChatSessionNotFound = errors.New("chat session not found")

// ChatConnectionOptions wraps metadata extracted during the websocket upgrade.
type ChatConnectionOptions struct {
	UserID        string
	CorrelationID string
	Context       context.Context
}

// ChatCommand is a client instruction received over the session websocket.
type ChatCommand struct {
	Action string `json:"action" validate:"required,oneof=open close send older bind"`
	Text   string `json:"text" validate:"max=4000"`
	Group  string `json:"group_id" validate:"max=128"`
}

// ChatService keeps the chat sessions of every open chat panel.
type ChatService interface {
	Create(ctx context.Context, groupID string) (*ChatSession, error)
	Get(id string) (*ChatSession, error)
	List() []dto.ChatSessionResponse
	Remove(ctx context.Context, id string) error
	ServeConnection(conn *websocket.Conn, session *ChatSession, opts ChatConnectionOptions)
	Shutdown(ctx context.Context)
	SessionListener
}

type chatService struct {
	client    ChatClient
	conn      RealtimeConn
	identity  Identity
	blobs     *BlobStore
	cfg       ChatSessionConfig
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu       sync.RWMutex
	sessions map[string]*ChatSession
}

// NewChatService constructs the chat session registry.
func NewChatService(client ChatClient, conn RealtimeConn, identity Identity, blobs *BlobStore, cfg ChatSessionConfig, validate *validator.Validate, logger zerolog.Logger) ChatService {
	if blobs == nil {
		blobs = NewBlobStore()
	}
	return &chatService{
		client:    client,
		conn:      conn,
		identity:  identity,
		blobs:     blobs,
		cfg:       cfg,
		validator: validate,
		logger:    logger.With().Str("component", "chat_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/studyhub-companion/internal/service/chat"),
		sessions:  make(map[string]*ChatSession),
	}
}

func (s *chatService) Create(ctx context.Context, groupID string) (*ChatSession, error) {
	if _, ok := s.identity.User(); !ok {
		return nil, ErrNotAuthenticated
	}

	session := newChatSession(uuid.NewString(), s.client, s.conn, s.identity, s.blobs, s.cfg, s.tracer, s.logger)
	session.start()

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	if strings.TrimSpace(groupID) != "" {
		if err := session.Bind(ctx, groupID); err != nil {
			_ = s.Remove(ctx, session.ID())
			return nil, err
		}
	}

	s.logger.Debug().Str("chat_session", session.ID()).Str("group_id", groupID).Msg("chat session created")
	return session, nil
}

func (s *chatService) Get(id string) (*ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrChatSessionNotFound
	}
	return session, nil
}

func (s *chatService) List() []dto.ChatSessionResponse {
	s.mu.RLock()
	sessions := make([]*ChatSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	out := make([]dto.ChatSessionResponse, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *chatService) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrChatSessionNotFound
	}
	session.destroy(ctx)
	return nil
}

func (s *chatService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*ChatSession)
	s.mu.Unlock()

	for _, session := range sessions {
		session.destroy(ctx)
	}
}

func (s *chatService) SessionStarted(context.Context, apiclient.User) {}

// SessionEnded drops every chat session; they belong to the previous identity.
func (s *chatService) SessionEnded(ctx context.Context) {
	s.Shutdown(ctx)
}

// ServeConnection streams session snapshots to conn and applies commands read from it.
func (s *chatService) ServeConnection(conn *websocket.Conn, session *ChatSession, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	snapshots, cancel := session.Subscribe()
	observability.StreamClientsActive().WithLabelValues("chat").Inc()
	defer observability.StreamClientsActive().WithLabelValues("chat").Dec()

	client := &chatClient{
		conn:      conn,
		session:   session,
		service:   s,
		snapshots: snapshots,
		cancel:    cancel,
		closed:    make(chan struct{}),
		baseCtx:   baseCtx,
		logger:    s.logger.With().Str("chat_session", session.ID()).Str("user_id", opts.UserID).Logger(),
	}

	if err := conn.WriteJSON(session.Snapshot()); err != nil {
		client.close()
		return
	}

	go client.writer()
	client.reader()
}

type chatClient struct {
	conn      *websocket.Conn
	session   *ChatSession
	service   *chatService
	snapshots <-chan dto.ChatSessionResponse
	cancel    func()
	closed    chan struct{}
	once      sync.Once
	baseCtx   context.Context
	logger    zerolog.Logger
}

func (c *chatClient) reader() {
	defer c.close()

	for {
		var command ChatCommand
		if err := c.conn.ReadJSON(&command); err != nil {
			c.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		if err := c.service.validator.Struct(command); err != nil {
			c.logger.Warn().Err(err).Msg("invalid chat command")
			continue
		}

		if err := c.apply(command); err != nil {
			c.logger.Warn().Err(err).Str("action", command.Action).Msg("chat command failed")
		}

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *chatClient) apply(command ChatCommand) error {
	ctx := c.baseCtx
	switch command.Action {
	case "open":
		return c.session.Open(ctx)
	case "close":
		c.session.Close()
		return nil
	case "send":
		return c.session.SendText(ctx, command.Text)
	case "older":
		_, err := c.session.LoadOlder(ctx)
		return err
	case "bind":
		return c.session.Bind(ctx, command.Group)
	}
	return nil
}

func (c *chatClient) writer() {
	defer c.close()

	ticker := time.NewTicker(chatKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case snapshot, ok := <-c.snapshots:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := c.conn.WriteJSON(snapshot); err != nil {
				c.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.conn.Close()
	})
}
