package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/middleware"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

func withRequestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func requiredParam(c *fiber.Ctx, key string) (string, error) {
	value := strings.TrimSpace(c.Params(key))
	if value == "" {
		return "", fmt.Errorf("%s required", key)
	}
	return value, nil
}

// decodeBody parses the JSON body into out. When it reports false the error
// response has already been written and the returned error must be passed on.
func decodeBody(c *fiber.Ctx, out interface{}) (bool, error) {
	if len(c.Body()) == 0 {
		return true, nil
	}
	if err := c.BodyParser(out); err != nil {
		return false, utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	return true, nil
}

func rawBody(c *fiber.Ctx) (json.RawMessage, error) {
	body := c.Body()
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, errors.New("request body must be JSON")
	}
	out := make(json.RawMessage, len(body))
	copy(out, body)
	return out, nil
}

// readFormFile loads a multipart file. An empty name is reported as missing.
func readFormFile(c *fiber.Ctx, field string) (string, []byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return "", nil, err
	}
	file, err := header.Open()
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, content, nil
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

func sendValidationError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return utils.Fail(c, fiber.StatusBadRequest, "validation failed", details)
}

// sendServiceError maps service and backend errors onto the response envelope.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	if isValidationError(err) {
		return sendValidationError(c, err)
	}

	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status < fiber.StatusBadRequest {
			status = fiber.StatusBadGateway
		}
		message := apiErr.Message
		if message == "" {
			message = fiber.ErrBadGateway.Message
		}
		return utils.SendError(c, status, message)
	}

	switch {
	case errors.Is(err, service.ErrNotAuthenticated):
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrChatSessionNotFound), errors.Is(err, service.ErrBlobNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrChatSessionClosed):
		return utils.SendError(c, fiber.StatusGone, err.Error())
	case errors.Is(err, service.ErrAttachmentTooLarge), errors.Is(err, apiclient.ErrFileTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrFileTypeNotAllowed),
		errors.Is(err, service.ErrEmptyAttachment),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrNoGroupBound),
		errors.Is(err, service.ErrEmptyAfterSanitize),
		errors.Is(err, service.ErrGroupRequired),
		errors.Is(err, service.ErrUnknownMeetingAction),
		errors.Is(err, service.ErrInvalidPayload),
		errors.Is(err, service.ErrResourceTitleRequired):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, realtime.ErrNotConnected), errors.Is(err, realtime.ErrAckTimeout):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "live connection unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return utils.SendError(c, fiber.StatusGatewayTimeout, "backend timed out")
	}

	requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return utils.SendError(c, fiber.StatusBadGateway, "backend request failed")
}

type groupCall func(ctx context.Context, groupID string) (json.RawMessage, error)
