package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMeetingAction is returned for actions other than request, respond and clear.
var ErrUnknownMeetingAction = errors.New("unknown meeting action")

// ErrInvalidPayload is returned when a pass-through body is not a JSON object.
var ErrInvalidPayload = errors.New("payload must be a JSON object")

var meetingActions = map[string]struct{}{
	"request": {},
	"respond": {},
	"clear":   {},
}

// MeetingClient is the backend surface for availability and meetings.
type MeetingClient interface {
	Availability(ctx context.Context) (json.RawMessage, error)
	UpdateAvailability(ctx context.Context, availability json.RawMessage) (json.RawMessage, error)
	AvailabilityOf(ctx context.Context, userID string) (json.RawMessage, error)
	Meetings(ctx context.Context) (json.RawMessage, error)
	MeetingAction(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
}

// MeetingService proxies availability and meeting requests.
type MeetingService interface {
	Availability(ctx context.Context) (json.RawMessage, error)
	UpdateAvailability(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
	AvailabilityOf(ctx context.Context, userID string) (json.RawMessage, error)
	Meetings(ctx context.Context) (json.RawMessage, error)
	Act(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
}

type meetingService struct {
	client MeetingClient
}

// NewMeetingService constructs the meeting proxy.
func NewMeetingService(client MeetingClient) MeetingService {
	return &meetingService{client: client}
}

func (s *meetingService) Availability(ctx context.Context) (json.RawMessage, error) {
	return s.client.Availability(ctx)
}

func (s *meetingService) UpdateAvailability(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if err := requireObject(payload); err != nil {
		return nil, err
	}
	return s.client.UpdateAvailability(ctx, payload)
}

func (s *meetingService) AvailabilityOf(ctx context.Context, userID string) (json.RawMessage, error) {
	return s.client.AvailabilityOf(ctx, strings.TrimSpace(userID))
}

func (s *meetingService) Meetings(ctx context.Context) (json.RawMessage, error) {
	return s.client.Meetings(ctx)
}

func (s *meetingService) Act(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if _, ok := meetingActions[action]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMeetingAction, action)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if err := requireObject(payload); err != nil {
		return nil, err
	}
	return s.client.MeetingAction(ctx, action, payload)
}

func requireObject(payload json.RawMessage) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil || probe == nil {
		return ErrInvalidPayload
	}
	return nil
}
