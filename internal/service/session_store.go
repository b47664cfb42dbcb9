package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/studyhub-companion/internal/models"
	"github.com/noah-isme/studyhub-companion/internal/repository"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

// SessionStore holds the persisted token and user. It is the token source for the
// backend client and the realtime handshake.
type SessionStore struct {
	repo   repository.SessionRepository
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	token     string
	user      *apiclient.User
	expiresAt *time.Time
}

// NewSessionStore constructs an empty session store backed by repo.
func NewSessionStore(repo repository.SessionRepository, logger zerolog.Logger) *SessionStore {
	return &SessionStore{
		repo:   repo,
		logger: logger.With().Str("component", "session_store").Logger(),
		now:    time.Now,
	}
}

// Load reads the persisted session. An expired token is discarded.
func (s *SessionStore) Load(ctx context.Context) error {
	rawToken, err := s.repo.Get(ctx, models.StoredKeyToken)
	if err != nil {
		if errors.Is(err, repository.ErrValueNotFound) {
			return nil
		}
		return err
	}
	rawUser, err := s.repo.Get(ctx, models.StoredKeyUser)
	if err != nil {
		if errors.Is(err, repository.ErrValueNotFound) {
			return s.Clear(ctx)
		}
		return err
	}

	var token string
	if err := json.Unmarshal(rawToken, &token); err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable stored token")
		return s.Clear(ctx)
	}
	var user apiclient.User
	if err := json.Unmarshal(rawUser, &user); err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable stored user")
		return s.Clear(ctx)
	}

	expiresAt := tokenExpiry(token)
	if expiresAt != nil && !expiresAt.After(s.now()) {
		s.logger.Info().Time("expired_at", *expiresAt).Msg("stored session expired")
		return s.Clear(ctx)
	}

	s.mu.Lock()
	s.token = token
	s.user = &user
	s.expiresAt = expiresAt
	s.mu.Unlock()
	return nil
}

// Save persists token and user and makes them current.
func (s *SessionStore) Save(ctx context.Context, token string, user apiclient.User) error {
	rawToken, err := json.Marshal(token)
	if err != nil {
		return err
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := s.repo.Put(ctx, models.StoredKeyToken, datatypes.JSON(rawToken)); err != nil {
		return err
	}
	if err := s.repo.Put(ctx, models.StoredKeyUser, datatypes.JSON(rawUser)); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.user = &user
	s.expiresAt = tokenExpiry(token)
	s.mu.Unlock()
	return nil
}

// Clear forgets the session in memory and on disk.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.expiresAt = nil
	s.mu.Unlock()

	return s.repo.Delete(ctx, models.StoredKeyToken, models.StoredKeyUser)
}

// Token returns the current bearer token, or an empty string when signed out.
func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user.
func (s *SessionStore) User() (apiclient.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return apiclient.User{}, false
	}
	return *s.user, true
}

// ExpiresAt returns the token expiry when the token carries one.
func (s *SessionStore) ExpiresAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiresAt == nil {
		return nil
	}
	at := *s.expiresAt
	return &at
}

// tokenExpiry reads the exp claim without verifying the signature; the backend is the
// only party holding the key.
func tokenExpiry(token string) *time.Time {
	if token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	at := exp.Time.UTC()
	return &at
}
