package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

// Notification payload types with dedicated wording.
const (
	NotificationJoinRequest       = "join_request"
	NotificationJoinApproved      = "join_approved"
	NotificationJoinApprovedLocal = "join_approved_local"
	NotificationJoinRejected      = "join_rejected"
	NotificationDebug             = "debug"
)

const fallbackNotificationText = "New notification"

const unknownRequestor = "Someone"

// FormatNotification renders the human readable text for a notification payload.
func FormatNotification(n apiclient.Notification) string {
	title := notificationTitle(n)
	requestor := ""
	if n.Requestor != nil {
		requestor = strings.TrimSpace(n.Requestor.Name)
	}
	if requestor == "" {
		requestor = unknownRequestor
	}

	switch n.Type {
	case NotificationJoinRequest:
		return fmt.Sprintf("%s requested to join \"%s\".", requestor, title)
	case NotificationJoinApproved:
		return fmt.Sprintf("Your request to join \"%s\" was approved.", title)
	case NotificationJoinApprovedLocal:
		return fmt.Sprintf("You approved %s to join \"%s\".", requestor, title)
	case NotificationJoinRejected:
		return fmt.Sprintf("Your request to join \"%s\" was rejected.", title)
	case NotificationDebug:
		return "Debug: " + strings.TrimSpace(n.Message)
	}

	switch {
	case strings.TrimSpace(n.Title) != "":
		return strings.TrimSpace(n.Title)
	case strings.TrimSpace(n.Message) != "":
		return strings.TrimSpace(n.Message)
	case strings.TrimSpace(n.Text) != "":
		return strings.TrimSpace(n.Text)
	default:
		return fallbackNotificationText
	}
}

func notificationTitle(n apiclient.Notification) string {
	if title := strings.TrimSpace(n.Title); title != "" {
		return title
	}
	if n.Group != nil {
		return strings.TrimSpace(n.Group.Name)
	}
	return ""
}
