package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

// ErrEmptyAfterSanitize indicates user content had nothing left once markup was stripped.
var ErrEmptyAfterSanitize = errors.New("content empty after sanitization")

// DiscussionClient is the backend surface for discussion threads.
type DiscussionClient interface {
	Threads(ctx context.Context, groupID string) (json.RawMessage, error)
	CreateThread(ctx context.Context, input apiclient.ThreadInput) (json.RawMessage, error)
	UpdateThread(ctx context.Context, threadID string, patch apiclient.ThreadPatch) (json.RawMessage, error)
	DeleteThread(ctx context.Context, threadID string) error
	VoteThread(ctx context.Context, threadID string, vote apiclient.ThreadVote) (json.RawMessage, error)
	AddComment(ctx context.Context, threadID string, input apiclient.CommentInput) (json.RawMessage, error)
	DeleteComment(ctx context.Context, threadID, commentID string) error
}

// DiscussionService proxies discussion threads, sanitizing user content first.
type DiscussionService interface {
	ListThreads(ctx context.Context, groupID string) (json.RawMessage, error)
	CreateThread(ctx context.Context, req dto.ThreadCreateRequest) (json.RawMessage, error)
	UpdateThread(ctx context.Context, threadID string, req dto.ThreadUpdateRequest) (json.RawMessage, error)
	DeleteThread(ctx context.Context, threadID string) error
	VoteThread(ctx context.Context, threadID string, req dto.ThreadVoteRequest) (json.RawMessage, error)
	AddComment(ctx context.Context, threadID string, req dto.CommentCreateRequest) (json.RawMessage, error)
	DeleteComment(ctx context.Context, threadID, commentID string) error
}

type discussionService struct {
	client    DiscussionClient
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewDiscussionService constructs the discussion proxy.
func NewDiscussionService(client DiscussionClient, validate *validator.Validate, logger zerolog.Logger) DiscussionService {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("br")

	return &discussionService{
		client:    client,
		validator: validate,
		sanitizer: policy,
		logger:    logger.With().Str("component", "discussion_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/studyhub-companion/internal/service/discussion"),
	}
}

func (s *discussionService) ListThreads(ctx context.Context, groupID string) (json.RawMessage, error) {
	return s.client.Threads(ctx, strings.TrimSpace(groupID))
}

func (s *discussionService) CreateThread(ctx context.Context, req dto.ThreadCreateRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(s.sanitizer.Sanitize(req.Title))
	body := strings.TrimSpace(s.sanitizer.Sanitize(req.Body))
	if title == "" || body == "" {
		return nil, ErrEmptyAfterSanitize
	}

	spanCtx, span := s.tracer.Start(ctx, "discussions.create_thread", trace.WithAttributes(attribute.String("discussion.group_id", req.GroupID)))
	defer span.End()

	out, err := s.client.CreateThread(spanCtx, apiclient.ThreadInput{GroupID: req.GroupID, Title: title, Body: body})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

func (s *discussionService) UpdateThread(ctx context.Context, threadID string, req dto.ThreadUpdateRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	patch := apiclient.ThreadPatch{}
	if req.Title != nil {
		title := strings.TrimSpace(s.sanitizer.Sanitize(*req.Title))
		if title == "" {
			return nil, ErrEmptyAfterSanitize
		}
		patch.Title = &title
	}
	if req.Body != nil {
		body := strings.TrimSpace(s.sanitizer.Sanitize(*req.Body))
		if body == "" {
			return nil, ErrEmptyAfterSanitize
		}
		patch.Body = &body
	}
	return s.client.UpdateThread(ctx, threadID, patch)
}

func (s *discussionService) DeleteThread(ctx context.Context, threadID string) error {
	return s.client.DeleteThread(ctx, threadID)
}

func (s *discussionService) VoteThread(ctx context.Context, threadID string, req dto.ThreadVoteRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	return s.client.VoteThread(ctx, threadID, apiclient.ThreadVote{Value: req.Value})
}

func (s *discussionService) AddComment(ctx context.Context, threadID string, req dto.CommentCreateRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(s.sanitizer.Sanitize(req.Body))
	if body == "" {
		return nil, ErrEmptyAfterSanitize
	}
	return s.client.AddComment(ctx, threadID, apiclient.CommentInput{Body: body})
}

func (s *discussionService) DeleteComment(ctx context.Context, threadID, commentID string) error {
	return s.client.DeleteComment(ctx, threadID, commentID)
}
