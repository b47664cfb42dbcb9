package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

// Publisher is the subset of a NATS connection the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BridgedEvent is the envelope mirrored to the message bus.
type BridgedEvent struct {
	Source string          `json:"source"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	At     time.Time       `json:"at"`
}

// EventBridge mirrors realtime bus events to a NATS subject per event name.
type EventBridge struct {
	bus           *realtime.Bus
	publisher     Publisher
	subjectPrefix string
	nodeID        string
	logger        zerolog.Logger
}

// NewEventBridge constructs a bridge publishing under subjectPrefix, e.g. studyhub.events.
func NewEventBridge(bus *realtime.Bus, publisher Publisher, subjectPrefix string, logger zerolog.Logger) *EventBridge {
	prefix := strings.Trim(strings.TrimSpace(subjectPrefix), ".")
	if prefix == "" {
		prefix = "studyhub.events"
	}
	return &EventBridge{
		bus:           bus,
		publisher:     publisher,
		subjectPrefix: prefix,
		nodeID:        uuid.NewString(),
		logger:        logger.With().Str("component", "event_bridge").Logger(),
	}
}

// Start forwards events until ctx is cancelled.
func (b *EventBridge) Start(ctx context.Context) {
	if b.publisher == nil || b.bus == nil {
		return
	}
	events, cancel := b.bus.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if err := b.forward(evt); err != nil {
					b.logger.Warn().Err(err).Str("event", evt.Name).Msg("failed to mirror realtime event")
				}
			}
		}
	}()
}

// Subject returns the subject an event is mirrored to.
func (b *EventBridge) Subject(event string) string {
	return b.subjectPrefix + "." + event
}

func (b *EventBridge) forward(evt realtime.Event) error {
	payload, err := json.Marshal(BridgedEvent{
		Source: b.nodeID,
		Event:  evt.Name,
		Data:   evt.Data,
		At:     evt.At,
	})
	if err != nil {
		return err
	}
	return b.publisher.Publish(b.Subject(evt.Name), payload)
}
