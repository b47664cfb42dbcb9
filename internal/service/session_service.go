package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

// ErrNotAuthenticated is returned when an operation needs a signed-in user.
var ErrNotAuthenticated = errors.New("not authenticated")

// SessionListener reacts to the signed-in identity changing.
type SessionListener interface {
	SessionStarted(ctx context.Context, user apiclient.User)
	SessionEnded(ctx context.Context)
}

// SessionService owns login state, the user room and the realtime connection lifecycle.
type SessionService interface {
	Restore(ctx context.Context) error
	Login(ctx context.Context, req dto.LoginRequest) (dto.SessionResponse, error)
	Signup(ctx context.Context, req dto.SignupRequest) (dto.SessionResponse, error)
	ForgotPassword(ctx context.Context, req dto.ForgotPasswordRequest) (json.RawMessage, error)
	ResetPassword(ctx context.Context, req dto.ResetPasswordRequest) (json.RawMessage, error)
	Logout(ctx context.Context) error
	Describe() dto.SessionResponse
	Identity() (userID string, role string, ok bool)
	AddListener(listener SessionListener)
	Start(ctx context.Context)
}

type sessionService struct {
	store     *SessionStore
	client    AuthClient
	conn      RealtimeConn
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu         sync.Mutex
	listeners  []SessionListener
	joinedUser string
}

// NewSessionService constructs the session service.
func NewSessionService(store *SessionStore, client AuthClient, conn RealtimeConn, validate *validator.Validate, logger zerolog.Logger) SessionService {
	return &sessionService{
		store:     store,
		client:    client,
		conn:      conn,
		validator: validate,
		logger:    logger.With().Str("component", "session_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/studyhub-companion/internal/service/session"),
	}
}

func (s *sessionService) AddListener(listener SessionListener) {
	if listener == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

// Start rejoins the user room whenever the realtime connection comes back.
func (s *sessionService) Start(ctx context.Context) {
	events, cancel := s.conn.Bus().Subscribe(realtime.EventConnect, realtime.EventDisconnect)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				switch evt.Name {
				case realtime.EventDisconnect:
					s.mu.Lock()
					s.joinedUser = ""
					s.mu.Unlock()
				case realtime.EventConnect:
					if user, ok := s.store.User(); ok {
						s.joinUserRoom(ctx, string(user.ID))
					}
				}
			}
		}
	}()
}

func (s *sessionService) Restore(ctx context.Context) error {
	if err := s.store.Load(ctx); err != nil {
		return err
	}
	user, ok := s.store.User()
	if !ok {
		return nil
	}

	s.logger.Info().Str("user_id", string(user.ID)).Msg("restored persisted session")
	s.connect(ctx, user)
	s.notifyStarted(ctx, user)
	return nil
}

func (s *sessionService) Login(ctx context.Context, req dto.LoginRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "session.login")
	defer span.End()

	resp, err := s.client.Login(spanCtx, apiclient.Credentials{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}

	return s.establish(spanCtx, span, resp)
}

func (s *sessionService) Signup(ctx context.Context, req dto.SignupRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "session.signup")
	defer span.End()

	resp, err := s.client.Signup(spanCtx, apiclient.Signup{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}

	return s.establish(spanCtx, span, resp)
}

func (s *sessionService) establish(ctx context.Context, span trace.Span, resp apiclient.AuthResponse) (dto.SessionResponse, error) {
	if strings.TrimSpace(resp.Token) == "" || resp.User.ID == "" {
		err := errors.New("auth response missing token or user")
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}
	span.SetAttributes(attribute.String("session.user_id", string(resp.User.ID)))

	if previous, ok := s.store.User(); ok && previous.ID != resp.User.ID {
		s.logger.Info().
			Str("previous_user_id", string(previous.ID)).
			Str("user_id", string(resp.User.ID)).
			Msg("identity changed, tearing down realtime connection")
		s.teardown(ctx, string(previous.ID))
	}

	if err := s.store.Save(ctx, resp.Token, resp.User); err != nil {
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}

	s.connect(ctx, resp.User)
	s.notifyStarted(ctx, resp.User)
	return s.Describe(), nil
}

func (s *sessionService) ForgotPassword(ctx context.Context, req dto.ForgotPasswordRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	return s.client.ForgotPassword(ctx, strings.TrimSpace(req.Email))
}

func (s *sessionService) ResetPassword(ctx context.Context, req dto.ResetPasswordRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	return s.client.ResetPassword(ctx, apiclient.PasswordReset{Token: req.Token, Password: req.Password})
}

func (s *sessionService) Logout(ctx context.Context) error {
	user, ok := s.store.User()
	if !ok {
		return nil
	}

	_, span := s.tracer.Start(ctx, "session.logout", trace.WithAttributes(attribute.String("session.user_id", string(user.ID))))
	defer span.End()

	s.teardown(ctx, string(user.ID))
	if err := s.store.Clear(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info().Str("user_id", string(user.ID)).Msg("signed out")
	return nil
}

func (s *sessionService) Describe() dto.SessionResponse {
	user, ok := s.store.User()
	if !ok {
		return dto.SessionResponse{Authenticated: false, Realtime: s.conn.Connected()}
	}
	return dto.SessionResponse{
		Authenticated: true,
		User:          &user,
		ExpiresAt:     s.store.ExpiresAt(),
		Realtime:      s.conn.Connected(),
	}
}

func (s *sessionService) Identity() (string, string, bool) {
	user, ok := s.store.User()
	if !ok {
		return "", "", false
	}
	return string(user.ID), user.Role, true
}

func (s *sessionService) connect(ctx context.Context, user apiclient.User) {
	if err := s.conn.EnsureConnected(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("realtime unavailable, continuing without live updates")
		return
	}
	s.joinUserRoom(ctx, string(user.ID))
}

// joinUserRoom joins the personal room at most once per identity and connection.
func (s *sessionService) joinUserRoom(ctx context.Context, userID string) {
	s.mu.Lock()
	if s.joinedUser == userID {
		s.mu.Unlock()
		return
	}
	s.joinedUser = userID
	s.mu.Unlock()

	if err := s.conn.JoinRoom(ctx, realtime.RoomUser, userID); err != nil {
		s.mu.Lock()
		if s.joinedUser == userID {
			s.joinedUser = ""
		}
		s.mu.Unlock()
	}
}

func (s *sessionService) teardown(ctx context.Context, userID string) {
	s.mu.Lock()
	joined := s.joinedUser == userID
	s.joinedUser = ""
	s.mu.Unlock()

	if joined && s.conn.Connected() {
		_ = s.conn.LeaveRoom(ctx, realtime.RoomUser, userID)
	}
	s.conn.Disconnect()
	s.notifyEnded(ctx)
}

func (s *sessionService) notifyStarted(ctx context.Context, user apiclient.User) {
	for _, listener := range s.snapshotListeners() {
		listener.SessionStarted(ctx, user)
	}
}

func (s *sessionService) notifyEnded(ctx context.Context) {
	for _, listener := range s.snapshotListeners() {
		listener.SessionEnded(ctx)
	}
}

func (s *sessionService) snapshotListeners() []SessionListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}
