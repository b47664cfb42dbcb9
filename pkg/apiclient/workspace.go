package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// MeetingPolls lists a group's meeting polls.
func (c *Client) MeetingPolls(ctx context.Context, groupID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/groups/"+escape(groupID)+"/meeting-polls", nil, &out)
	return out, err
}

// CreateMeetingPoll opens a new availability poll.
func (c *Client) CreateMeetingPoll(ctx context.Context, groupID string, input PollInput) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/groups/"+escape(groupID)+"/meeting-polls", input, &out)
	return out, err
}

// VoteMeetingPoll votes for a slot of a poll.
func (c *Client) VoteMeetingPoll(ctx context.Context, groupID, pollID string, vote PollVote) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/groups/"+escape(groupID)+"/meeting-polls/"+escape(pollID)+"/vote", vote, &out)
	return out, err
}

// Threads lists discussion threads of a group.
func (c *Client) Threads(ctx context.Context, groupID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/discussions/threads", url.Values{"group_id": {groupID}}, &out)
	return out, err
}

// CreateThread starts a discussion thread.
func (c *Client) CreateThread(ctx context.Context, input ThreadInput) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/discussions/threads", input, &out)
	return out, err
}

// UpdateThread edits a discussion thread.
func (c *Client) UpdateThread(ctx context.Context, threadID string, patch ThreadPatch) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, http.MethodPatch, "/discussions/threads/"+escape(threadID), nil, patch, &out)
	return out, err
}

// DeleteThread removes a discussion thread.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/discussions/threads/"+escape(threadID), nil, nil, nil)
}

// VoteThread votes on a discussion thread.
func (c *Client) VoteThread(ctx context.Context, threadID string, vote ThreadVote) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/discussions/threads/"+escape(threadID)+"/vote", vote, &out)
	return out, err
}

// AddComment comments on a discussion thread.
func (c *Client) AddComment(ctx context.Context, threadID string, input CommentInput) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/discussions/threads/"+escape(threadID)+"/comments", input, &out)
	return out, err
}

// DeleteComment removes a comment from a thread.
func (c *Client) DeleteComment(ctx context.Context, threadID, commentID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/discussions/threads/"+escape(threadID)+"/comments/"+escape(commentID), nil, nil, nil)
}

// Resources lists the shared files and links of a group.
func (c *Client) Resources(ctx context.Context, groupID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/resources/list", url.Values{"group_id": {groupID}}, &out)
	return out, err
}

// UploadResource shares a file with a group.
func (c *Client) UploadResource(ctx context.Context, groupID, title string, file FileUpload) (json.RawMessage, error) {
	var out json.RawMessage
	fields := map[string]string{"group_id": groupID}
	if title != "" {
		fields["title"] = title
	}
	err := c.upload(ctx, "/resources/upload", "file", file, fields, &out)
	return out, err
}

// ShareLink shares a link with a group.
func (c *Client) ShareLink(ctx context.Context, input LinkInput) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/resources/link", input, &out)
	return out, err
}

// ResourceDownloadURL returns the absolute URL of a resource download, suitable for Fetch.
func (c *Client) ResourceDownloadURL(resourceID string) string {
	return c.resolve("/resources/download/"+escape(resourceID), nil)
}

// UpdateResource edits resource metadata.
func (c *Client) UpdateResource(ctx context.Context, resourceID string, patch ResourcePatch) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, http.MethodPatch, "/resources/update/"+escape(resourceID), nil, patch, &out)
	return out, err
}

// DeleteResource removes a shared resource.
func (c *Client) DeleteResource(ctx context.Context, resourceID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/resources/"+escape(resourceID), nil, nil, nil)
}

// Availability returns the caller's weekly availability.
func (c *Client) Availability(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/groups/availability", nil, &out)
	return out, err
}

// UpdateAvailability replaces the caller's weekly availability.
func (c *Client) UpdateAvailability(ctx context.Context, availability json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, http.MethodPut, "/groups/availability", nil, availability, &out)
	return out, err
}

// AvailabilityOf returns another user's availability.
func (c *Client) AvailabilityOf(ctx context.Context, userID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/availability/of/"+escape(userID), nil, &out)
	return out, err
}

// Meetings lists the caller's meeting requests and confirmed meetings.
func (c *Client) Meetings(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/meetings/list", nil, &out)
	return out, err
}

// MeetingAction posts to one of the meeting actions: request, respond or clear.
func (c *Client) MeetingAction(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, http.MethodPost, "/meetings/"+escape(action), nil, payload, &out)
	return out, err
}
