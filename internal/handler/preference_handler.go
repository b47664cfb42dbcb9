package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// PreferenceHandler serves device-local notes and checklists.
type PreferenceHandler struct {
	service service.PreferenceService
	logger  zerolog.Logger
}

// NewPreferenceHandler constructs a preference handler.
func NewPreferenceHandler(service service.PreferenceService, logger zerolog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		service: service,
		logger:  logger.With().Str("component", "preference_handler").Logger(),
	}
}

// Register binds the preference routes.
func (h *PreferenceHandler) Register(router fiber.Router) {
	router.Get("/:groupId/notes", h.notes)
	router.Put("/:groupId/notes", h.saveNotes)
	router.Get("/:groupId/checklist", h.checklist)
	router.Put("/:groupId/checklist", h.saveChecklist)
}

func (h *PreferenceHandler) notes(c *fiber.Ctx) error {
	pref, err := h.service.Notes(withRequestContext(c), c.Params("groupId"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notes", pref)
}

func (h *PreferenceHandler) saveNotes(c *fiber.Ctx) error {
	var req dto.NotesRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	pref, err := h.service.SaveNotes(withRequestContext(c), c.Params("groupId"), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notes saved", pref)
}

func (h *PreferenceHandler) checklist(c *fiber.Ctx) error {
	pref, err := h.service.Checklist(withRequestContext(c), c.Params("groupId"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "checklist", pref)
}

func (h *PreferenceHandler) saveChecklist(c *fiber.Ctx) error {
	var req dto.ChecklistRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	pref, err := h.service.SaveChecklist(withRequestContext(c), c.Params("groupId"), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "checklist saved", pref)
}
