package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// DiscussionHandler provides HTTP endpoints for discussion threads.
type DiscussionHandler struct {
	service service.DiscussionService
	logger  zerolog.Logger
}

// NewDiscussionHandler constructs a handler instance.
func NewDiscussionHandler(service service.DiscussionService, logger zerolog.Logger) *DiscussionHandler {
	return &DiscussionHandler{
		service: service,
		logger:  logger.With().Str("component", "discussion_handler").Logger(),
	}
}

// Register binds the discussion routes.
func (h *DiscussionHandler) Register(router fiber.Router) {
	router.Get("/threads", h.listThreads)
	router.Post("/threads", h.createThread)
	router.Patch("/threads/:id", h.updateThread)
	router.Delete("/threads/:id", h.deleteThread)
	router.Post("/threads/:id/vote", h.voteThread)
	router.Post("/threads/:id/comments", h.addComment)
	router.Delete("/threads/:id/comments/:commentId", h.deleteComment)
}

func (h *DiscussionHandler) listThreads(c *fiber.Ctx) error {
	groupID := strings.TrimSpace(c.Query("group_id"))
	if groupID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "group_id required")
	}

	threads, err := h.service.ListThreads(withRequestContext(c), groupID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "threads", threads)
}

func (h *DiscussionHandler) createThread(c *fiber.Ctx) error {
	var req dto.ThreadCreateRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	thread, err := h.service.CreateThread(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "thread created", thread)
}

func (h *DiscussionHandler) updateThread(c *fiber.Ctx) error {
	id, err := requiredParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.ThreadUpdateRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	thread, err := h.service.UpdateThread(withRequestContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "thread updated", thread)
}

func (h *DiscussionHandler) deleteThread(c *fiber.Ctx) error {
	id, err := requiredParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.service.DeleteThread(withRequestContext(c), id); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *DiscussionHandler) voteThread(c *fiber.Ctx) error {
	id, err := requiredParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.ThreadVoteRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	out, err := h.service.VoteThread(withRequestContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "vote recorded", out)
}

func (h *DiscussionHandler) addComment(c *fiber.Ctx) error {
	id, err := requiredParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.CommentCreateRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	comment, err := h.service.AddComment(withRequestContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "comment added", comment)
}

func (h *DiscussionHandler) deleteComment(c *fiber.Ctx) error {
	id, err := requiredParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	commentID, err := requiredParam(c, "commentId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.service.DeleteComment(withRequestContext(c), id, commentID); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
