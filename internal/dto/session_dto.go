package dto

import (
	"time"

	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

// LoginRequest represents the credential payload for logging in.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignupRequest represents the payload for creating an account.
type SignupRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// ForgotPasswordRequest starts the password reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes the password reset flow.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// SessionResponse describes the current session to the presentation layer.
type SessionResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          *apiclient.User `json:"user,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Realtime      bool            `json:"realtime"`
}
