package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/middleware"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// NotificationHandler serves the notification feed and its SSE stream.
type NotificationHandler struct {
	service   service.NotificationService
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(service service.NotificationService, logger zerolog.Logger, keepAlive time.Duration) *NotificationHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &NotificationHandler{
		service:   service,
		logger:    logger.With().Str("component", "notification_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/stream", h.stream)
	router.Post("/refresh", h.refresh)
	router.Post("/clear", h.clear)
	router.Post("/debug", middleware.WithAuth(h.debug, middleware.AuthOptions{Role: middleware.AuthRoleAdmin}))
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	feed := h.service.Feed()
	return utils.OK(c, feed.Items, "notifications", fiber.Map{"unread": feed.Unread})
}

func (h *NotificationHandler) refresh(c *fiber.Ctx) error {
	if err := h.service.LoadPersisted(withRequestContext(c)); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications refreshed", h.service.Feed())
}

func (h *NotificationHandler) clear(c *fiber.Ctx) error {
	if err := h.service.Clear(withRequestContext(c)); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications cleared", h.service.Feed())
}

func (h *NotificationHandler) debug(c *fiber.Ctx) error {
	var req dto.DebugNotificationRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = "Debug notification"
	}

	payload, err := json.Marshal(map[string]string{"type": service.NotificationDebug, "message": message})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	notification, err := h.service.OnPush(payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "debug notification queued", notification)
}

func (h *NotificationHandler) stream(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(withRequestContext(c))
	updates, unsubscribe := h.service.Subscribe()
	initial := h.service.Feed()
	logger := requestLogger(h.logger, c)
	interval := h.keepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			unsubscribe()
			cancel()
		}()

		if err := writeFeedEvent(w, initial); err != nil {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case feed, ok := <-updates:
				if !ok {
					return
				}
				if err := writeFeedEvent(w, feed); err != nil {
					logger.Debug().Err(err).Msg("failed to write notification event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write notification keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func writeFeedEvent(w *bufio.Writer, feed dto.NotificationFeed) error {
	payload, err := json.Marshal(feed)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: notifications\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
