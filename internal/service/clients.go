package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

// AuthClient is the backend surface used by the session service.
type AuthClient interface {
	Login(ctx context.Context, creds apiclient.Credentials) (apiclient.AuthResponse, error)
	Signup(ctx context.Context, payload apiclient.Signup) (apiclient.AuthResponse, error)
	ForgotPassword(ctx context.Context, email string) (json.RawMessage, error)
	ResetPassword(ctx context.Context, payload apiclient.PasswordReset) (json.RawMessage, error)
}

// NotificationClient is the backend surface used by the notification aggregator.
type NotificationClient interface {
	Notifications(ctx context.Context, limit int) ([]apiclient.Notification, error)
	MarkNotificationsRead(ctx context.Context, ids []string) error
}

// ChatClient is the backend surface used by chat sessions.
type ChatClient interface {
	ChatHistory(ctx context.Context, groupID string, before time.Time) ([]apiclient.ChatMessage, error)
	SendChatText(ctx context.Context, groupID, text string) error
	UploadChatFile(ctx context.Context, groupID string, file apiclient.FileUpload) error
	ChatUnread(ctx context.Context, groupID string) (int, error)
	MarkChatRead(ctx context.Context, groupID string) error
	Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error)
}

// RealtimeConn is the shared realtime connection as seen by services.
type RealtimeConn interface {
	EnsureConnected(ctx context.Context) error
	JoinRoom(ctx context.Context, kind realtime.RoomKind, id string) error
	LeaveRoom(ctx context.Context, kind realtime.RoomKind, id string) error
	Send(ctx context.Context, kind realtime.RoomKind, id string, from realtime.Sender, payload interface{}) (json.RawMessage, error)
	Connected() bool
	Disconnect()
	Bus() *realtime.Bus
}

// Identity exposes the signed-in user to components that attribute messages.
type Identity interface {
	User() (apiclient.User, bool)
}
