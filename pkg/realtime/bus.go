package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const subscriberBufferSize = 64

// Event is a realtime event republished inside the process.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
	At   time.Time       `json:"at"`
}

// Bus fans realtime events out to independent in-process subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]struct{}
	logger      zerolog.Logger
}

type subscription struct {
	ch    chan Event
	names map[string]struct{}
	once  sync.Once
}

// NewBus constructs an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[*subscription]struct{}),
		logger:      logger.With().Str("component", "realtime_bus").Logger(),
	}
}

// Subscribe registers interest in the named events, or every event when names is empty.
// The returned cancel function unregisters the subscription and closes the channel.
func (b *Bus) Subscribe(names ...string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, subscriberBufferSize)}
	if len(names) > 0 {
		sub.names = make(map[string]struct{}, len(names))
		for _, name := range names {
			sub.names[name] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers evt to every interested subscriber without blocking. Slow
// subscribers lose the event.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.names != nil {
			if _, ok := sub.names[evt.Name]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Warn().Str("event", evt.Name).Msg("dropping realtime event for slow subscriber")
		}
	}
}
