package service

import (
	"context"
	"encoding/json"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/observability"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

const (
	// NotificationFeedLimit bounds the feed length and the backfill request.
	NotificationFeedLimit  = 50
	notificationBufferSize = 16
)

// NotificationService aggregates backfilled and pushed notifications into one feed.
type NotificationService interface {
	LoadPersisted(ctx context.Context) error
	OnPush(payload json.RawMessage) (dto.Notification, error)
	Clear(ctx context.Context) error
	UnreadCount() int
	Feed() dto.NotificationFeed
	Subscribe() (<-chan dto.NotificationFeed, func())
	Reset()
	Start(ctx context.Context)
	SessionListener
}

type notificationService struct {
	client    NotificationClient
	bus       *realtime.Bus
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
	broker    *feedBroker
	now       func() time.Time

	mu    sync.Mutex
	items []dto.Notification
}

type feedBroker struct {
	mu          sync.RWMutex
	subscribers map[chan dto.NotificationFeed]struct{}
}

// NewNotificationService constructs the notification aggregator.
func NewNotificationService(client NotificationClient, bus *realtime.Bus, logger zerolog.Logger) NotificationService {
	return &notificationService{
		client:    client,
		bus:       bus,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/studyhub-companion/internal/service/notification"),
		sanitizer: bluemonday.StrictPolicy(),
		broker: &feedBroker{
			subscribers: make(map[chan dto.NotificationFeed]struct{}),
		},
		now: time.Now,
	}
}

// MergeNotifications prepends unseen incoming items to existing, in incoming order, so the
// last incoming item ends up first. The result holds at most NotificationFeedLimit items.
func MergeNotifications(existing, incoming []dto.Notification) []dto.Notification {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, item := range existing {
		seen[notificationKey(item)] = struct{}{}
	}

	fresh := make([]dto.Notification, 0, len(incoming))
	for _, item := range incoming {
		key := notificationKey(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, item)
	}

	merged := make([]dto.Notification, 0, len(fresh)+len(existing))
	for i := len(fresh) - 1; i >= 0; i-- {
		merged = append(merged, fresh[i])
	}
	merged = append(merged, existing...)
	if len(merged) > NotificationFeedLimit {
		merged = merged[:NotificationFeedLimit]
	}
	return merged
}

func notificationKey(n dto.Notification) string {
	if n.ServerID != "" {
		return "srv:" + n.ServerID
	}
	return "local:" + n.ID
}

func (s *notificationService) Start(ctx context.Context) {
	if s.bus == nil {
		return
	}
	events, cancel := s.bus.Subscribe(realtime.EventNotify, realtime.EventNotifyUser)
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
				if _, err := s.OnPush(evt.Data); err != nil {
					s.logger.Warn().Err(err).Str("event", evt.Name).Msg("dropping malformed notification push")
				}
			}
		}
	}()
}

func (s *notificationService) LoadPersisted(ctx context.Context) error {
	spanCtx, span := s.tracer.Start(ctx, "notifications.load_persisted")
	defer span.End()

	rows, err := s.client.Notifications(spanCtx, NotificationFeedLimit)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Msg("notification backfill failed")
		return err
	}

	unread := make([]apiclient.Notification, 0, len(rows))
	for _, row := range rows {
		if !row.Read {
			unread = append(unread, row)
		}
	}
	// Oldest first so the newest row lands on top after the merge.
	sort.SliceStable(unread, func(i, j int) bool {
		return unread[i].CreatedAt.Before(unread[j].CreatedAt)
	})

	incoming := make([]dto.Notification, 0, len(unread))
	for _, row := range unread {
		incoming = append(incoming, s.toLocal(row))
	}
	span.SetAttributes(attribute.Int("notifications.unread", len(incoming)))

	added := s.merge(incoming)
	observability.NotificationsMerged().WithLabelValues("backfill").Add(float64(added))
	return nil
}

func (s *notificationService) OnPush(payload json.RawMessage) (dto.Notification, error) {
	var push apiclient.Notification
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &push); err != nil {
			return dto.Notification{}, err
		}
	}

	item := s.toLocal(push)
	item.At = s.now().UTC()
	if added := s.merge([]dto.Notification{item}); added > 0 {
		observability.NotificationsMerged().WithLabelValues("push").Inc()
	}

	s.logger.Debug().Str("type", push.Type).Str("server_id", item.ServerID).Msg("notification pushed")
	return item, nil
}

func (s *notificationService) Clear(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.items))
	for _, item := range s.items {
		if !item.Read && item.ServerID != "" {
			ids = append(ids, item.ServerID)
		}
	}
	s.items = nil
	s.mu.Unlock()
	s.publish()

	if len(ids) == 0 {
		return nil
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.clear", trace.WithAttributes(attribute.Int("notifications.ids", len(ids))))
	defer span.End()

	if err := s.client.MarkNotificationsRead(spanCtx, ids); err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Int("count", len(ids)).Msg("failed to mark notifications read")
	}
	return nil
}

func (s *notificationService) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countUnread(s.items)
}

func (s *notificationService) Feed() dto.NotificationFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedLocked()
}

func (s *notificationService) Subscribe() (<-chan dto.NotificationFeed, func()) {
	channel := make(chan dto.NotificationFeed, notificationBufferSize)
	s.broker.subscribe(channel)
	observability.StreamClientsActive().WithLabelValues("notifications").Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(channel)
			observability.StreamClientsActive().WithLabelValues("notifications").Dec()
		})
	}
	return channel, cleanup
}

func (s *notificationService) Reset() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	s.publish()
}

func (s *notificationService) SessionStarted(ctx context.Context, _ apiclient.User) {
	_ = s.LoadPersisted(ctx)
}

func (s *notificationService) SessionEnded(context.Context) {
	s.Reset()
}

func (s *notificationService) toLocal(n apiclient.Notification) dto.Notification {
	text := html.UnescapeString(s.sanitizer.Sanitize(FormatNotification(n)))
	text = strings.TrimSpace(text)
	if text == "" {
		text = fallbackNotificationText
	}
	at := n.CreatedAt.UTC()
	if n.CreatedAt.IsZero() {
		at = s.now().UTC()
	}
	return dto.Notification{
		ID:       uuid.NewString(),
		ServerID: n.ServerID(),
		Text:     text,
		At:       at,
		Read:     n.Read,
	}
}

func (s *notificationService) merge(incoming []dto.Notification) int {
	s.mu.Lock()
	seen := make(map[string]struct{}, len(s.items))
	for _, item := range s.items {
		seen[notificationKey(item)] = struct{}{}
	}
	added := 0
	for _, item := range incoming {
		if _, ok := seen[notificationKey(item)]; !ok {
			seen[notificationKey(item)] = struct{}{}
			added++
		}
	}
	s.items = MergeNotifications(s.items, incoming)
	s.mu.Unlock()
	s.publish()
	return added
}

func (s *notificationService) publish() {
	feed := s.Feed()
	observability.NotificationFeedSize().Set(float64(len(feed.Items)))
	s.broker.broadcast(feed)
}

func (s *notificationService) feedLocked() dto.NotificationFeed {
	items := make([]dto.Notification, len(s.items))
	copy(items, s.items)
	return dto.NotificationFeed{Items: items, Unread: countUnread(items)}
}

func countUnread(items []dto.Notification) int {
	count := 0
	for _, item := range items {
		if !item.Read {
			count++
		}
	}
	return count
}

func (b *feedBroker) subscribe(ch chan dto.NotificationFeed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = struct{}{}
}

func (b *feedBroker) unsubscribe(ch chan dto.NotificationFeed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

func (b *feedBroker) broadcast(feed dto.NotificationFeed) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- feed:
		default:
		}
	}
}
