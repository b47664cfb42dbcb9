package apiclient

import (
	"context"
	"encoding/json"
	"net/url"
	"time"
)

// ChatHistory returns a group's chat history in chronological order. A non-zero before
// limits the page to messages sent earlier than that instant.
func (c *Client) ChatHistory(ctx context.Context, groupID string, before time.Time) ([]ChatMessage, error) {
	query := url.Values{}
	if !before.IsZero() {
		query.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	var out []ChatMessage
	if err := c.getJSON(ctx, "/groups/"+escape(groupID)+"/chat", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendChatText posts a text message. The response is not the rendered message; the
// message itself is delivered through the realtime stream.
func (c *Client) SendChatText(ctx context.Context, groupID, text string) error {
	var out json.RawMessage
	return c.postJSON(ctx, "/groups/"+escape(groupID)+"/chat", map[string]string{"text": text}, &out)
}

// UploadChatFile posts a file attachment to a group's chat.
func (c *Client) UploadChatFile(ctx context.Context, groupID string, file FileUpload) error {
	var out json.RawMessage
	return c.upload(ctx, "/groups/"+escape(groupID)+"/chat/upload", "file", file, nil, &out)
}

// ChatUnread returns the caller's unread message count for a group.
func (c *Client) ChatUnread(ctx context.Context, groupID string) (int, error) {
	var out UnreadCount
	if err := c.getJSON(ctx, "/groups/"+escape(groupID)+"/chat/unread", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkChatRead resets the caller's unread counter for a group.
func (c *Client) MarkChatRead(ctx context.Context, groupID string) error {
	return c.postJSON(ctx, "/groups/"+escape(groupID)+"/chat/mark-read", nil, nil)
}
