package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// ResourceHandler handles group resource uploads, links and downloads.
type ResourceHandler struct {
	service service.ResourceService
	logger  zerolog.Logger
}

// NewResourceHandler constructs a resource handler.
func NewResourceHandler(service service.ResourceService, logger zerolog.Logger) *ResourceHandler {
	return &ResourceHandler{
		service: service,
		logger:  logger.With().Str("component", "resource_handler").Logger(),
	}
}

// Register wires resource routes.
func (h *ResourceHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/upload", h.upload)
	router.Post("/links", h.shareLink)
	router.Get("/:id/download", h.download)
	router.Patch("/:id", h.update)
	router.Delete("/:id", h.remove)
}

func (h *ResourceHandler) list(c *fiber.Ctx) error {
	groupID := strings.TrimSpace(c.Query("group_id"))
	if groupID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "group_id required")
	}
	resources, err := h.service.List(withRequestContext(c), groupID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "resources", resources)
}

func (h *ResourceHandler) upload(c *fiber.Ctx) error {
	groupID := strings.TrimSpace(c.FormValue("group_id"))
	if groupID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "group_id required")
	}
	name, content, err := readFormFile(c, "file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	resource, err := h.service.Upload(withRequestContext(c), groupID, c.FormValue("title"), name, content)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "upload successful", resource)
}

func (h *ResourceHandler) shareLink(c *fiber.Ctx) error {
	var req dto.LinkShareRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	resource, err := h.service.ShareLink(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "link shared", resource)
}

func (h *ResourceHandler) download(c *fiber.Ctx) error {
	id, err := requiredParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	content, contentType, err := h.service.Download(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", id))
	return c.Status(fiber.StatusOK).Send(content)
}

func (h *ResourceHandler) update(c *fiber.Ctx) error {
	id, err := requiredParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.ResourceUpdateRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	resource, err := h.service.Update(withRequestContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "resource updated", resource)
}

func (h *ResourceHandler) remove(c *fiber.Ctx) error {
	id, err := requiredParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.service.Delete(withRequestContext(c), id); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
