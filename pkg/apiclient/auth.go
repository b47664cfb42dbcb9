package apiclient

import (
	"context"
	"encoding/json"
)

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, creds Credentials) (AuthResponse, error) {
	var out AuthResponse
	if err := c.postJSON(ctx, "/auth/login", creds, &out); err != nil {
		return AuthResponse{}, err
	}
	return out, nil
}

// Signup creates an account and returns its session token.
func (c *Client) Signup(ctx context.Context, payload Signup) (AuthResponse, error) {
	var out AuthResponse
	if err := c.postJSON(ctx, "/auth/signup", payload, &out); err != nil {
		return AuthResponse{}, err
	}
	return out, nil
}

// ForgotPassword starts the password reset flow for email.
func (c *Client) ForgotPassword(ctx context.Context, email string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/auth/forgot-password", map[string]string{"email": email}, &out)
	return out, err
}

// ResetPassword completes the password reset flow.
func (c *Client) ResetPassword(ctx context.Context, payload PasswordReset) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/auth/reset-password", payload, &out)
	return out, err
}
