package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ErrFileTooLarge indicates a downloaded file exceeded the caller supplied limit.
var ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

// ID is a backend identifier. The backend emits both numeric and string identifiers,
// so both decode into the same string form.
type ID string

// UnmarshalJSON accepts JSON strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Person is the identity attached to users, message authors and join requestors.
type Person struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// User is the authenticated account returned by the auth endpoints.
type User struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Person projects the user onto the identity shape carried by messages.
func (u User) Person() Person {
	return Person{ID: u.ID, Name: u.Name, Email: u.Email}
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup is the account creation payload.
type Signup struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordReset completes a forgot-password flow.
type PasswordReset struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// GroupRef names the group a notification refers to.
type GroupRef struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Notification is both the persisted notification row and the pushed socket payload.
type Notification struct {
	ID             ID        `json:"id,omitempty"`
	NotificationID ID        `json:"notification_id,omitempty"`
	Type           string    `json:"type,omitempty"`
	Title          string    `json:"title,omitempty"`
	Message        string    `json:"message,omitempty"`
	Text           string    `json:"text,omitempty"`
	Requestor      *Person   `json:"requestor,omitempty"`
	Group          *GroupRef `json:"group,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// ServerID returns the backend assigned identifier, if any.
func (n Notification) ServerID() string {
	if n.ID != "" {
		return string(n.ID)
	}
	return string(n.NotificationID)
}

// FileMeta describes an uploaded chat attachment.
type FileMeta struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
}

// Chat message kinds.
const (
	MessageKindText = "text"
	MessageKindFile = "file"
)

// ChatMessage is a single group chat entry from history or the realtime stream.
type ChatMessage struct {
	ID      ID        `json:"id"`
	Kind    string    `json:"kind"`
	Text    string    `json:"text,omitempty"`
	File    *FileMeta `json:"file,omitempty"`
	At      time.Time `json:"at"`
	From    Person    `json:"from"`
	GroupID ID        `json:"groupId"`
}

// UnreadCount is the chat unread counter for a group.
type UnreadCount struct {
	Count int `json:"count"`
}

// FileUpload is an in-memory file sent as a multipart part.
type FileUpload struct {
	Name        string
	ContentType string
	Content     []byte
}

// GroupInput creates a study group.
type GroupInput struct {
	Name        string `json:"name"`
	Course      string `json:"course"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private,omitempty"`
}

// PollSlot is a candidate meeting time.
type PollSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PollInput creates a meeting poll.
type PollInput struct {
	Title    string     `json:"title"`
	Slots    []PollSlot `json:"slots"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// PollVote casts a vote for one slot.
type PollVote struct {
	SlotID string `json:"slotId"`
}

// ThreadInput creates a discussion thread.
type ThreadInput struct {
	GroupID string `json:"group_id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// ThreadPatch updates a discussion thread.
type ThreadPatch struct {
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
}

// ThreadVote up- or down-votes a thread.
type ThreadVote struct {
	Value int `json:"value"`
}

// CommentInput adds a comment to a thread.
type CommentInput struct {
	Body string `json:"body"`
}

// LinkInput shares a link as a group resource.
type LinkInput struct {
	GroupID     string `json:"group_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// ResourcePatch updates resource metadata.
type ResourcePatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ReadReceipt marks notifications as read.
type ReadReceipt struct {
	IDs []string `json:"ids"`
}
