package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// BlobHandler serves preview bytes held by the blob store.
type BlobHandler struct {
	blobs *service.BlobStore
}

// NewBlobHandler constructs a blob handler.
func NewBlobHandler(blobs *service.BlobStore) *BlobHandler {
	return &BlobHandler{blobs: blobs}
}

// Register binds the blob routes.
func (h *BlobHandler) Register(router fiber.Router) {
	router.Get("/:id", h.get)
}

func (h *BlobHandler) get(c *fiber.Ctx) error {
	blob, err := h.blobs.Get(strings.TrimSpace(c.Params("id")))
	if err != nil {
		return utils.SendError(c, fiber.StatusNotFound, "preview expired")
	}

	c.Set(fiber.HeaderContentType, blob.Mime)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", blob.Name))
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(fiber.StatusOK).Send(blob.Data)
}
