package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// ChatHandler wires chat session endpoints including the websocket upgrade.
type ChatHandler struct {
	service     service.ChatService
	validator   *validator.Validate
	sendLimiter fiber.Handler
	logger      zerolog.Logger
}

// NewChatHandler creates a chat handler instance. sendLimiter guards message
// sends and may be nil.
func NewChatHandler(service service.ChatService, validator *validator.Validate, sendLimiter fiber.Handler, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service:     service,
		validator:   validator,
		sendLimiter: sendLimiter,
		logger:      logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/sessions/:sid/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", withRequestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/sessions/:sid/ws", websocket.New(h.handleConnection))

	router.Get("/sessions", h.list)
	router.Post("/sessions", h.create)
	router.Get("/sessions/:sid", h.get)
	router.Delete("/sessions/:sid", h.remove)
	router.Put("/sessions/:sid/group", h.bind)
	router.Post("/sessions/:sid/open", h.open)
	router.Post("/sessions/:sid/close", h.close)

	send := []fiber.Handler{h.send}
	if h.sendLimiter != nil {
		send = append([]fiber.Handler{h.sendLimiter}, send...)
	}
	router.Post("/sessions/:sid/messages", send...)
	router.Post("/sessions/:sid/older", h.older)
	router.Post("/sessions/:sid/upload", h.upload)
	router.Post("/sessions/:sid/preview", h.openPreview)
	router.Delete("/sessions/:sid/preview", h.closePreview)
}

func (h *ChatHandler) session(c *fiber.Ctx) (*service.ChatSession, error) {
	sid, err := requiredParam(c, "sid")
	if err != nil {
		return nil, service.ErrChatSessionNotFound
	}
	return h.service.Get(sid)
}

func (h *ChatHandler) list(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "chat sessions", h.service.List())
}

func (h *ChatHandler) create(c *fiber.Ctx) error {
	var req dto.ChatSessionCreateRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	session, err := h.service.Create(withRequestContext(c), req.GroupID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "chat session created", session.Snapshot())
}

func (h *ChatHandler) get(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chat session", session.Snapshot())
}

func (h *ChatHandler) remove(c *fiber.Ctx) error {
	sid, err := requiredParam(c, "sid")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.service.Remove(withRequestContext(c), sid); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) bind(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	var req dto.ChatBindRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	if err := session.Bind(withRequestContext(c), req.GroupID); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chat session bound", session.Snapshot())
}

func (h *ChatHandler) open(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := session.Open(withRequestContext(c)); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chat opened", session.Snapshot())
}

func (h *ChatHandler) close(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	session.Close()
	return utils.SendSuccess(c, "chat closed", session.Snapshot())
}

func (h *ChatHandler) send(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	var req dto.ChatSendRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	if err := h.validator.Struct(req); err != nil {
		return sendValidationError(c, err)
	}
	if err := session.SendText(withRequestContext(c), req.Text); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "message sent", session.Snapshot())
}

func (h *ChatHandler) older(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	loaded, err := session.LoadOlder(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, session.Snapshot(), "older messages loaded", fiber.Map{"loaded": loaded})
}

func (h *ChatHandler) upload(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	name, content, err := readFormFile(c, "file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}
	if err := session.Upload(withRequestContext(c), name, content); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "attachment uploaded", session.Snapshot())
}

func (h *ChatHandler) openPreview(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	var req dto.PreviewRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	if err := h.validator.Struct(req); err != nil {
		return sendValidationError(c, err)
	}
	preview, err := session.OpenPreview(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "preview ready", preview)
}

func (h *ChatHandler) closePreview(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	session.ClosePreview()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	sid := strings.TrimSpace(conn.Params("sid"))
	session, err := h.service.Get(sid)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "chat session not found"))
		_ = conn.Close()
		return
	}

	userID := websocketUserID(conn)
	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ChatConnectionOptions{
		UserID:        userID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Str("chat_session", sid).Msg("chat websocket connected")
	h.service.ServeConnection(conn, session, opts)
	h.logger.Info().Str("user_id", userID).Str("chat_session", sid).Msg("chat websocket disconnected")
}

func websocketUserID(conn *websocket.Conn) string {
	if value, ok := conn.Locals("user_id").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
