package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

// PollClient is the backend surface for meeting polls.
type PollClient interface {
	MeetingPolls(ctx context.Context, groupID string) (json.RawMessage, error)
	CreateMeetingPoll(ctx context.Context, groupID string, input apiclient.PollInput) (json.RawMessage, error)
	VoteMeetingPoll(ctx context.Context, groupID, pollID string, vote apiclient.PollVote) (json.RawMessage, error)
}

// PollService proxies meeting poll operations.
type PollService interface {
	List(ctx context.Context, groupID string) (json.RawMessage, error)
	Create(ctx context.Context, groupID string, req dto.PollCreateRequest) (json.RawMessage, error)
	Vote(ctx context.Context, groupID, pollID string, req dto.PollVoteRequest) (json.RawMessage, error)
}

type pollService struct {
	client    PollClient
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewPollService constructs the poll proxy.
func NewPollService(client PollClient, validate *validator.Validate, logger zerolog.Logger) PollService {
	return &pollService{
		client:    client,
		validator: validate,
		logger:    logger.With().Str("component", "poll_service").Logger(),
	}
}

func (s *pollService) List(ctx context.Context, groupID string) (json.RawMessage, error) {
	return s.client.MeetingPolls(ctx, groupID)
}

func (s *pollService) Create(ctx context.Context, groupID string, req dto.PollCreateRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	slots := make([]apiclient.PollSlot, 0, len(req.Slots))
	for _, slot := range req.Slots {
		slots = append(slots, apiclient.PollSlot{Start: slot.Start.UTC(), End: slot.End.UTC()})
	}
	return s.client.CreateMeetingPoll(ctx, groupID, apiclient.PollInput{
		Title:    strings.TrimSpace(req.Title),
		Slots:    slots,
		Deadline: req.Deadline,
	})
}

func (s *pollService) Vote(ctx context.Context, groupID, pollID string, req dto.PollVoteRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	return s.client.VoteMeetingPoll(ctx, groupID, pollID, apiclient.PollVote{SlotID: req.SlotID})
}
