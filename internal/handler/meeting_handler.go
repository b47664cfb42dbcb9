package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// MeetingHandler proxies availability and meeting requests. Bodies pass through untouched.
type MeetingHandler struct {
	service service.MeetingService
	logger  zerolog.Logger
}

// NewMeetingHandler constructs a meeting handler.
func NewMeetingHandler(service service.MeetingService, logger zerolog.Logger) *MeetingHandler {
	return &MeetingHandler{
		service: service,
		logger:  logger.With().Str("component", "meeting_handler").Logger(),
	}
}

// RegisterAvailability binds the availability routes.
func (h *MeetingHandler) RegisterAvailability(router fiber.Router) {
	router.Get("/", h.availability)
	router.Put("/", h.updateAvailability)
	router.Get("/:userId", h.availabilityOf)
}

// RegisterMeetings binds the meeting routes.
func (h *MeetingHandler) RegisterMeetings(router fiber.Router) {
	router.Get("/", h.meetings)
	router.Post("/:action", h.act)
}

func (h *MeetingHandler) availability(c *fiber.Ctx) error {
	out, err := h.service.Availability(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "availability", out)
}

func (h *MeetingHandler) updateAvailability(c *fiber.Ctx) error {
	payload, err := rawBody(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	out, err := h.service.UpdateAvailability(withRequestContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "availability updated", out)
}

func (h *MeetingHandler) availabilityOf(c *fiber.Ctx) error {
	userID, err := requiredParam(c, "userId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	out, err := h.service.AvailabilityOf(withRequestContext(c), userID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "availability", out)
}

func (h *MeetingHandler) meetings(c *fiber.Ctx) error {
	out, err := h.service.Meetings(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "meetings", out)
}

func (h *MeetingHandler) act(c *fiber.Ctx) error {
	payload, err := rawBody(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	out, err := h.service.Act(withRequestContext(c), c.Params("action"), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "meeting updated", out)
}
