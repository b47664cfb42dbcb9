package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RoomKind identifies the family of a realtime room.
type RoomKind string

// Room kinds.
const (
	RoomUser  RoomKind = "user"
	RoomGroup RoomKind = "group"
)

// Server to client events.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventNotify       = "notify"
	EventNotifyUser   = "notify_user"
	EventGroupMessage = "group_message"
	EventSystem       = "system"
)

// Client to server events.
const (
	EventJoinUser   = "join_user"
	EventLeaveUser  = "leave_user"
	EventJoinGroup  = "join_group"
	EventLeaveGroup = "leave_group"
)

const eventAck = "ack"

// forwarded lists the inbound events republished on the bus.
var forwarded = map[string]struct{}{
	EventNotify:       {},
	EventNotifyUser:   {},
	EventGroupMessage: {},
	EventSystem:       {},
}

var (
	// ErrNotConnected is returned when emitting without a live transport.
	ErrNotConnected = errors.New("realtime connection not established")
	// ErrAckTimeout is returned when the server does not acknowledge an emit in time.
	ErrAckTimeout = errors.New("realtime acknowledgement timed out")
	// ErrUnknownRoomKind is returned for room kinds other than user and group.
	ErrUnknownRoomKind = errors.New("unknown room kind")
)

// AckError carries a negative acknowledgement from the server.
type AckError struct {
	Event  string
	Reason string
}

func (e *AckError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s rejected by server", e.Event)
	}
	return fmt.Sprintf("%s rejected by server: %s", e.Event, e.Reason)
}

// Frame is one JSON message on the wire in either direction.
type Frame struct {
	Event string          `json:"event"`
	Ack   int64           `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ackPayload struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

// Sender is the identity attached inline to outbound domain events.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type roomPayload struct {
	UserID  string `json:"user_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

type outboundMessage struct {
	GroupID string          `json:"group_id"`
	From    Sender          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

const frameSchemaURL = "studyhub://realtime/frame.json"

const frameSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["event"],
  "properties": {
    "event": {"type": "string", "minLength": 1, "maxLength": 64},
    "ack": {"type": "integer", "minimum": 1}
  }
}`

func compileFrameSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(frameSchemaURL, strings.NewReader(frameSchema)); err != nil {
		return nil, fmt.Errorf("add frame schema: %w", err)
	}
	return compiler.Compile(frameSchemaURL)
}

// decodeFrame validates raw against the frame schema before decoding it.
func decodeFrame(schema *jsonschema.Schema, raw []byte) (Frame, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var generic interface{}
	if err := decoder.Decode(&generic); err != nil {
		return Frame{}, fmt.Errorf("invalid frame json: %w", err)
	}
	if schema != nil {
		if err := schema.Validate(generic); err != nil {
			return Frame{}, fmt.Errorf("invalid frame: %w", err)
		}
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	return frame, nil
}

func joinEvent(kind RoomKind) (string, error) {
	switch kind {
	case RoomUser:
		return EventJoinUser, nil
	case RoomGroup:
		return EventJoinGroup, nil
	default:
		return "", ErrUnknownRoomKind
	}
}

func leaveEvent(kind RoomKind) (string, error) {
	switch kind {
	case RoomUser:
		return EventLeaveUser, nil
	case RoomGroup:
		return EventLeaveGroup, nil
	default:
		return "", ErrUnknownRoomKind
	}
}

func roomData(kind RoomKind, id string) roomPayload {
	if kind == RoomUser {
		return roomPayload{UserID: id}
	}
	return roomPayload{GroupID: id}
}
