package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// ListGroups returns the groups the caller belongs to.
func (c *Client) ListGroups(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/groups/", nil, &out)
	return out, err
}

// BrowseGroups returns groups the caller can request to join.
func (c *Client) BrowseGroups(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/groups/browse", nil, &out)
	return out, err
}

// CreateGroup creates a study group owned by the caller.
func (c *Client) CreateGroup(ctx context.Context, input GroupInput) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/groups", input, &out)
	return out, err
}

// GetGroup returns one group.
func (c *Client) GetGroup(ctx context.Context, groupID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/groups/"+escape(groupID), nil, &out)
	return out, err
}

// RequestJoin asks the group owner for membership.
func (c *Client) RequestJoin(ctx context.Context, groupID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/groups/request/"+escape(groupID), nil, &out)
	return out, err
}

// LeaveGroup removes the caller from a group.
func (c *Client) LeaveGroup(ctx context.Context, groupID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/groups/leave/"+escape(groupID), nil, &out)
	return out, err
}

// DeleteGroup deletes a group owned by the caller.
func (c *Client) DeleteGroup(ctx context.Context, groupID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/groups/"+escape(groupID), nil, nil, nil)
}

// GroupMembers lists the members of a group.
func (c *Client) GroupMembers(ctx context.Context, groupID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/groups/"+escape(groupID)+"/members", nil, &out)
	return out, err
}

// JoinRequests lists pending join requests for a group the caller owns.
func (c *Client) JoinRequests(ctx context.Context, groupID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/groups/"+escape(groupID)+"/requests", nil, &out)
	return out, err
}

// DecideJoinRequest approves or rejects a pending join request.
func (c *Client) DecideJoinRequest(ctx context.Context, groupID, userID string, approve bool) (json.RawMessage, error) {
	decision := "reject"
	if approve {
		decision = "approve"
	}
	var out json.RawMessage
	err := c.postJSON(ctx, "/groups/"+escape(groupID)+"/requests/"+escape(userID)+"/"+decision, nil, &out)
	return out, err
}

// Notifications returns up to limit of the caller's most recent notifications.
func (c *Client) Notifications(ctx context.Context, limit int) ([]Notification, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []Notification
	if err := c.getJSON(ctx, "/groups/notifications", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationsRead sends a read receipt for the given notification ids.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids []string) error {
	return c.postJSON(ctx, "/groups/notifications/read", ReadReceipt{IDs: ids}, nil)
}
