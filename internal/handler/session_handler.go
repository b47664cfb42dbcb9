package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// SessionHandler exposes login state to the presentation layer.
type SessionHandler struct {
	service service.SessionService
	logger  zerolog.Logger
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(service service.SessionService, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		logger:  logger.With().Str("component", "session_handler").Logger(),
	}
}

// Register binds the session routes. None of them require a signed-in user.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Get("/", h.describe)
	router.Post("/login", h.login)
	router.Post("/signup", h.signup)
	router.Post("/logout", h.logout)
	router.Post("/forgot-password", h.forgotPassword)
	router.Post("/reset-password", h.resetPassword)
}

func (h *SessionHandler) describe(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "session", h.service.Describe())
}

func (h *SessionHandler) login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	session, err := h.service.Login(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "signed in", session)
}

func (h *SessionHandler) signup(c *fiber.Ctx) error {
	var req dto.SignupRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	session, err := h.service.Signup(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "account created", session)
}

func (h *SessionHandler) logout(c *fiber.Ctx) error {
	if err := h.service.Logout(withRequestContext(c)); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "signed out", h.service.Describe())
}

func (h *SessionHandler) forgotPassword(c *fiber.Ctx) error {
	var req dto.ForgotPasswordRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	out, err := h.service.ForgotPassword(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "reset instructions sent", out)
}

func (h *SessionHandler) resetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}

	out, err := h.service.ResetPassword(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "password updated", out)
}
