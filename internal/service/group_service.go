package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/observability"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

// GroupClient is the backend surface for study groups.
type GroupClient interface {
	ListGroups(ctx context.Context) (json.RawMessage, error)
	BrowseGroups(ctx context.Context) (json.RawMessage, error)
	CreateGroup(ctx context.Context, input apiclient.GroupInput) (json.RawMessage, error)
	GetGroup(ctx context.Context, groupID string) (json.RawMessage, error)
	RequestJoin(ctx context.Context, groupID string) (json.RawMessage, error)
	LeaveGroup(ctx context.Context, groupID string) (json.RawMessage, error)
	DeleteGroup(ctx context.Context, groupID string) error
	GroupMembers(ctx context.Context, groupID string) (json.RawMessage, error)
	JoinRequests(ctx context.Context, groupID string) (json.RawMessage, error)
	DecideJoinRequest(ctx context.Context, groupID, userID string, approve bool) (json.RawMessage, error)
}

// GroupListing is a group list response and whether it came from the cache.
type GroupListing struct {
	Groups   json.RawMessage `json:"groups"`
	CacheHit bool            `json:"cache_hit"`
}

// GroupService proxies study-group operations and caches the list views.
type GroupService interface {
	Mine(ctx context.Context) (GroupListing, error)
	Browse(ctx context.Context) (GroupListing, error)
	Create(ctx context.Context, req dto.GroupCreateRequest) (json.RawMessage, error)
	Get(ctx context.Context, groupID string) (json.RawMessage, error)
	RequestJoin(ctx context.Context, groupID string) (json.RawMessage, error)
	Leave(ctx context.Context, groupID string) (json.RawMessage, error)
	Delete(ctx context.Context, groupID string) error
	Members(ctx context.Context, groupID string) (json.RawMessage, error)
	JoinRequests(ctx context.Context, groupID string) (json.RawMessage, error)
	DecideJoinRequest(ctx context.Context, groupID, userID string, approve bool) (json.RawMessage, error)
}

type groupService struct {
	client    GroupClient
	identity  Identity
	cache     *redis.Client
	ttl       time.Duration
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewGroupService constructs the group proxy. cache may be nil.
func NewGroupService(client GroupClient, identity Identity, cache *redis.Client, ttl time.Duration, validate *validator.Validate, logger zerolog.Logger) GroupService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &groupService{
		client:    client,
		identity:  identity,
		cache:     cache,
		ttl:       ttl,
		validator: validate,
		logger:    logger.With().Str("component", "group_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/studyhub-companion/internal/service/group"),
	}
}

func (s *groupService) Mine(ctx context.Context) (GroupListing, error) {
	return s.cachedList(ctx, "mine", s.client.ListGroups)
}

func (s *groupService) Browse(ctx context.Context) (GroupListing, error) {
	return s.cachedList(ctx, "browse", s.client.BrowseGroups)
}

func (s *groupService) cachedList(ctx context.Context, view string, fetch func(context.Context) (json.RawMessage, error)) (GroupListing, error) {
	spanCtx, span := s.tracer.Start(ctx, "groups.list", trace.WithAttributes(attribute.String("groups.view", view)))
	defer span.End()

	key := s.cacheKey(view)
	if cached, ok := s.fetchCache(spanCtx, key); ok {
		observability.GroupCacheLookups().WithLabelValues("hit").Inc()
		return GroupListing{Groups: cached, CacheHit: true}, nil
	}

	groups, err := fetch(spanCtx)
	if err != nil {
		span.RecordError(err)
		return GroupListing{}, err
	}

	s.writeCache(spanCtx, key, groups)
	observability.GroupCacheLookups().WithLabelValues("miss").Inc()
	return GroupListing{Groups: groups}, nil
}

func (s *groupService) Create(ctx context.Context, req dto.GroupCreateRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	group, err := s.client.CreateGroup(ctx, apiclient.GroupInput{
		Name:        strings.TrimSpace(req.Name),
		Course:      strings.TrimSpace(req.Course),
		Description: strings.TrimSpace(req.Description),
		Private:     req.Private,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return group, nil
}

func (s *groupService) Get(ctx context.Context, groupID string) (json.RawMessage, error) {
	return s.client.GetGroup(ctx, groupID)
}

func (s *groupService) RequestJoin(ctx context.Context, groupID string) (json.RawMessage, error) {
	out, err := s.client.RequestJoin(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *groupService) Leave(ctx context.Context, groupID string) (json.RawMessage, error) {
	out, err := s.client.LeaveGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *groupService) Delete(ctx context.Context, groupID string) error {
	if err := s.client.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *groupService) Members(ctx context.Context, groupID string) (json.RawMessage, error) {
	return s.client.GroupMembers(ctx, groupID)
}

func (s *groupService) JoinRequests(ctx context.Context, groupID string) (json.RawMessage, error) {
	return s.client.JoinRequests(ctx, groupID)
}

func (s *groupService) DecideJoinRequest(ctx context.Context, groupID, userID string, approve bool) (json.RawMessage, error) {
	out, err := s.client.DecideJoinRequest(ctx, groupID, userID, approve)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *groupService) fetchCache(ctx context.Context, key string) (json.RawMessage, bool) {
	if s.cache == nil || key == "" {
		return nil, false
	}
	payload, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	if !json.Valid(payload) {
		s.logger.Warn().Str("key", key).Msg("discarding invalid group cache entry")
		return nil, false
	}
	return json.RawMessage(payload), true
}

func (s *groupService) writeCache(ctx context.Context, key string, payload json.RawMessage) {
	if s.cache == nil || key == "" || len(payload) == 0 {
		return
	}
	if err := s.cache.Set(ctx, key, []byte(payload), s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store group cache")
	}
}

func (s *groupService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	mine := s.cacheKey("mine")
	if mine == "" {
		return
	}
	keys := []string{mine, s.cacheKey("browse")}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate group cache")
	}
}

func (s *groupService) cacheKey(view string) string {
	user, ok := s.identity.User()
	if !ok {
		return ""
	}
	return strings.Join([]string{"studyhub:groups:v1", string(user.ID), view}, ":")
}
