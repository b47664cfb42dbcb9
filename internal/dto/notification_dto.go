package dto

import "time"

// Notification is one entry of the in-app notification feed.
type Notification struct {
	ID       string    `json:"id"`
	ServerID string    `json:"serverId,omitempty"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
	Read     bool      `json:"read"`
}

// NotificationFeed is a snapshot of the bell contents.
type NotificationFeed struct {
	Items  []Notification `json:"items"`
	Unread int            `json:"unread"`
}

// DebugNotificationRequest injects a local debug notification.
type DebugNotificationRequest struct {
	Message string `json:"message" validate:"required,max=500"`
}
