package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/models"
	"github.com/noah-isme/studyhub-companion/internal/repository"
)

// ErrGroupRequired is returned when a group id is missing.
var ErrGroupRequired = errors.New("group id is required")

// PreferenceService stores per-group notes and checklists on this device only.
type PreferenceService interface {
	Notes(ctx context.Context, groupID string) (dto.PreferenceResponse, error)
	SaveNotes(ctx context.Context, groupID string, req dto.NotesRequest) (dto.PreferenceResponse, error)
	Checklist(ctx context.Context, groupID string) (dto.PreferenceResponse, error)
	SaveChecklist(ctx context.Context, groupID string, req dto.ChecklistRequest) (dto.PreferenceResponse, error)
}

type preferenceService struct {
	repo      repository.PreferenceRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewPreferenceService constructs the device preference service.
func NewPreferenceService(repo repository.PreferenceRepository, validate *validator.Validate, logger zerolog.Logger) PreferenceService {
	return &preferenceService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "preference_service").Logger(),
	}
}

func (s *preferenceService) Notes(ctx context.Context, groupID string) (dto.PreferenceResponse, error) {
	return s.get(ctx, groupID, models.PreferenceNotes, json.RawMessage(`""`))
}

func (s *preferenceService) SaveNotes(ctx context.Context, groupID string, req dto.NotesRequest) (dto.PreferenceResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.PreferenceResponse{}, err
	}
	return s.put(ctx, groupID, models.PreferenceNotes, req.Text)
}

func (s *preferenceService) Checklist(ctx context.Context, groupID string) (dto.PreferenceResponse, error) {
	return s.get(ctx, groupID, models.PreferenceChecklist, json.RawMessage(`[]`))
}

func (s *preferenceService) SaveChecklist(ctx context.Context, groupID string, req dto.ChecklistRequest) (dto.PreferenceResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.PreferenceResponse{}, err
	}
	items := req.Items
	if items == nil {
		items = []dto.ChecklistItem{}
	}
	for i := range items {
		items[i].Text = strings.TrimSpace(items[i].Text)
	}
	return s.put(ctx, groupID, models.PreferenceChecklist, items)
}

func (s *preferenceService) get(ctx context.Context, groupID, kind string, fallback json.RawMessage) (dto.PreferenceResponse, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return dto.PreferenceResponse{}, ErrGroupRequired
	}
	pref, err := s.repo.Get(ctx, groupID, kind)
	if err != nil {
		if errors.Is(err, repository.ErrValueNotFound) {
			return dto.PreferenceResponse{GroupID: groupID, Kind: kind, Value: fallback}, nil
		}
		return dto.PreferenceResponse{}, err
	}
	return toPreferenceResponse(pref), nil
}

func (s *preferenceService) put(ctx context.Context, groupID, kind string, value interface{}) (dto.PreferenceResponse, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return dto.PreferenceResponse{}, ErrGroupRequired
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return dto.PreferenceResponse{}, err
	}
	pref, err := s.repo.Upsert(ctx, groupID, kind, datatypes.JSON(payload))
	if err != nil {
		return dto.PreferenceResponse{}, err
	}
	s.logger.Debug().Str("group_id", groupID).Str("kind", kind).Msg("device preference saved")
	return toPreferenceResponse(pref), nil
}

func toPreferenceResponse(pref models.DevicePreference) dto.PreferenceResponse {
	updated := pref.UpdatedAt
	return dto.PreferenceResponse{
		GroupID:   pref.GroupID,
		Kind:      pref.Kind,
		Value:     json.RawMessage(pref.Value),
		UpdatedAt: &updated,
	}
}
