package dto

import "github.com/noah-isme/studyhub-companion/pkg/apiclient"

// ChatState is the lifecycle state of a chat session.
type ChatState string

// Chat session states.
const (
	ChatStateIdle    ChatState = "idle"
	ChatStateLoading ChatState = "loading"
	ChatStateReady   ChatState = "ready"
)

// ChatSessionResponse is a snapshot of one chat panel.
type ChatSessionResponse struct {
	ID          string                  `json:"id"`
	GroupID     string                  `json:"group_id,omitempty"`
	State       ChatState               `json:"state"`
	Open        bool                    `json:"open"`
	Messages    []apiclient.ChatMessage `json:"messages"`
	Unread      int                     `json:"unread"`
	UnreadLabel string                  `json:"unread_label,omitempty"`
	Preview     *PreviewResponse        `json:"preview,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
}

// ChatSessionCreateRequest creates a chat session, optionally bound to a group.
type ChatSessionCreateRequest struct {
	GroupID string `json:"group_id" validate:"omitempty,max=128"`
}

// ChatBindRequest switches the group a chat session is bound to.
type ChatBindRequest struct {
	GroupID string `json:"group_id" validate:"max=128"`
}

// ChatSendRequest sends a text message.
type ChatSendRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// PreviewRequest opens a preview for an attachment.
type PreviewRequest struct {
	URL  string `json:"url" validate:"required"`
	Name string `json:"name" validate:"required,max=255"`
	Mime string `json:"mime" validate:"omitempty,max=255"`
	Size int64  `json:"size" validate:"gte=0"`
}

// PreviewResponse describes the active preview of a chat session.
type PreviewResponse struct {
	BlobURL string `json:"blob_url,omitempty"`
	Name    string `json:"name"`
	Mime    string `json:"mime"`
	Size    int64  `json:"size"`
	Inline  bool   `json:"inline"`
}
