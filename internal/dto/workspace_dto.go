package dto

import (
	"encoding/json"
	"time"
)

// GroupCreateRequest creates a study group.
type GroupCreateRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Course      string `json:"course" validate:"required,max=60"`
	Description string `json:"description" validate:"max=2000"`
	Private     bool   `json:"private"`
}

// JoinDecisionRequest approves or rejects a pending join request.
type JoinDecisionRequest struct {
	Approve bool `json:"approve"`
}

// PollSlotRequest is a candidate time slot.
type PollSlotRequest struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtfield=Start"`
}

// PollCreateRequest creates a meeting poll.
type PollCreateRequest struct {
	Title    string            `json:"title" validate:"required,max=200"`
	Slots    []PollSlotRequest `json:"slots" validate:"required,min=1,dive"`
	Deadline *time.Time        `json:"deadline"`
}

// PollVoteRequest votes for a slot.
type PollVoteRequest struct {
	SlotID string `json:"slotId" validate:"required"`
}

// ThreadCreateRequest creates a discussion thread.
type ThreadCreateRequest struct {
	GroupID string `json:"group_id" validate:"required"`
	Title   string `json:"title" validate:"required,max=200"`
	Body    string `json:"body" validate:"required,max=10000"`
}

// ThreadUpdateRequest edits a discussion thread.
type ThreadUpdateRequest struct {
	Title *string `json:"title" validate:"omitempty,max=200"`
	Body  *string `json:"body" validate:"omitempty,max=10000"`
}

// ThreadVoteRequest votes on a thread.
type ThreadVoteRequest struct {
	Value int `json:"value" validate:"oneof=-1 0 1"`
}

// CommentCreateRequest adds a comment.
type CommentCreateRequest struct {
	Body string `json:"body" validate:"required,max=5000"`
}

// LinkShareRequest shares a link resource.
type LinkShareRequest struct {
	GroupID     string `json:"group_id" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	URL         string `json:"url" validate:"required,url"`
	Description string `json:"description" validate:"max=2000"`
}

// ResourceUpdateRequest edits resource metadata.
type ResourceUpdateRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// NotesRequest stores device-local notes for a group.
type NotesRequest struct {
	Text string `json:"text" validate:"max=20000"`
}

// ChecklistItem is one entry of the device-local group checklist.
type ChecklistItem struct {
	Text string `json:"text" validate:"required,max=500"`
	Done bool   `json:"done"`
}

// ChecklistRequest replaces the device-local checklist for a group.
type ChecklistRequest struct {
	Items []ChecklistItem `json:"items" validate:"max=200,dive"`
}

// PreferenceResponse returns a stored device preference.
type PreferenceResponse struct {
	GroupID   string          `json:"group_id"`
	Kind      string          `json:"kind"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}
