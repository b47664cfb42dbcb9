package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

// ErrResourceTitleRequired is returned when an upload has no title.
var ErrResourceTitleRequired = errors.New("resource title is required")

// ResourceClient is the backend surface for shared resources.
type ResourceClient interface {
	Resources(ctx context.Context, groupID string) (json.RawMessage, error)
	UploadResource(ctx context.Context, groupID, title string, file apiclient.FileUpload) (json.RawMessage, error)
	ShareLink(ctx context.Context, input apiclient.LinkInput) (json.RawMessage, error)
	ResourceDownloadURL(resourceID string) string
	UpdateResource(ctx context.Context, resourceID string, patch apiclient.ResourcePatch) (json.RawMessage, error)
	DeleteResource(ctx context.Context, resourceID string) error
	Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error)
}

// ResourceService proxies group resources.
type ResourceService interface {
	List(ctx context.Context, groupID string) (json.RawMessage, error)
	Upload(ctx context.Context, groupID, title, name string, content []byte) (json.RawMessage, error)
	ShareLink(ctx context.Context, req dto.LinkShareRequest) (json.RawMessage, error)
	Download(ctx context.Context, resourceID string) ([]byte, string, error)
	Update(ctx context.Context, resourceID string, req dto.ResourceUpdateRequest) (json.RawMessage, error)
	Delete(ctx context.Context, resourceID string) error
}

type resourceService struct {
	client       ResourceClient
	validator    *validator.Validate
	maxBytes     int64
	downloadSize int64
	logger       zerolog.Logger
}

// NewResourceService constructs the resource proxy.
func NewResourceService(client ResourceClient, maxUploadBytes, maxDownloadBytes int64, validate *validator.Validate, logger zerolog.Logger) ResourceService {
	return &resourceService{
		client:       client,
		validator:    validate,
		maxBytes:     maxUploadBytes,
		downloadSize: maxDownloadBytes,
		logger:       logger.With().Str("component", "resource_service").Logger(),
	}
}

func (s *resourceService) List(ctx context.Context, groupID string) (json.RawMessage, error) {
	return s.client.Resources(ctx, strings.TrimSpace(groupID))
}

func (s *resourceService) Upload(ctx context.Context, groupID, title, name string, content []byte) (json.RawMessage, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	if title == "" {
		return nil, ErrResourceTitleRequired
	}
	if len(content) == 0 {
		return nil, ErrEmptyAttachment
	}
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return nil, ErrAttachmentTooLarge
	}

	return s.client.UploadResource(ctx, strings.TrimSpace(groupID), title, apiclient.FileUpload{
		Name:        filepath.Base(name),
		ContentType: mimetype.Detect(content).String(),
		Content:     content,
	})
}

func (s *resourceService) ShareLink(ctx context.Context, req dto.LinkShareRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	return s.client.ShareLink(ctx, apiclient.LinkInput{
		GroupID:     req.GroupID,
		Title:       strings.TrimSpace(req.Title),
		URL:         strings.TrimSpace(req.URL),
		Description: strings.TrimSpace(req.Description),
	})
}

func (s *resourceService) Download(ctx context.Context, resourceID string) ([]byte, string, error) {
	return s.client.Fetch(ctx, s.client.ResourceDownloadURL(resourceID), s.downloadSize)
}

func (s *resourceService) Update(ctx context.Context, resourceID string, req dto.ResourceUpdateRequest) (json.RawMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	return s.client.UpdateResource(ctx, resourceID, apiclient.ResourcePatch{Title: req.Title, Description: req.Description})
}

func (s *resourceService) Delete(ctx context.Context, resourceID string) error {
	return s.client.DeleteResource(ctx, resourceID)
}
