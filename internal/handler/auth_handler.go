package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/dto"
	"github.com/Merlotec/jdsite/internal/middleware"
	"github.com/Merlotec/jdsite/internal/service"
	"github.com/Merlotec/jdsite/internal/utils"
)

// AuthHandler wires login, logout and the self-service account endpoints.
type AuthHandler struct {
	accounts   *service.AccountService
	sessionTTL time.Duration
	logger     zerolog.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(accounts *service.AccountService, sessionTTL time.Duration, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:   accounts,
		sessionTTL: sessionTTL,
		logger:     logger.With().Str("component", "auth_handler").Logger(),
	}
}

// RegisterPublic attaches the unauthenticated endpoints.
func (h *AuthHandler) RegisterPublic(router fiber.Router) {
	router.Post("/login", h.login)
	router.Post("/reset_password", h.requestReset)
	router.Get("/create_account/:token", h.peekLink)
	router.Post("/create_account/:token", h.redeemCreateAccount)
	router.Get("/change_password/:token", h.peekLink)
	router.Post("/change_password/:token", h.redeemChangePassword)
}

// RegisterProtected attaches the session-guarded endpoints.
func (h *AuthHandler) RegisterProtected(router fiber.Router) {
	router.Post("/logout", h.logout)
	router.Get("/me", h.me)
	router.Post("/password", h.changePassword)
	router.Post("/notifications", h.setNotifications)
}

func (h *AuthHandler) login(c *fiber.Ctx) error {
	var payload dto.LoginRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	token, user, err := h.accounts.Login(c.UserContext(), payload)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token.String(),
		Expires:  time.Now().Add(h.sessionTTL),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return utils.SendSuccess(c, "logged in", dto.NewUserResponse(user))
}

func (h *AuthHandler) logout(c *fiber.Ctx) error {
	if token, ok := middleware.TokenFromCtx(c); ok {
		if err := h.accounts.Logout(c.UserContext(), token); err != nil {
			h.logger.Warn().Err(err).Msg("failed to destroy session")
		}
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
	})

	return utils.SendSuccess(c, "logged out", nil)
}

func (h *AuthHandler) me(c *fiber.Ctx) error {
	user, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}
	return utils.SendSuccess(c, "account retrieved", dto.NewUserResponse(user))
}

func (h *AuthHandler) changePassword(c *fiber.Ctx) error {
	user, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.ChangePasswordRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.accounts.ChangeOwnPassword(c.UserContext(), user, payload); err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "password changed", nil)
}

func (h *AuthHandler) setNotifications(c *fiber.Ctx) error {
	user, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.NotificationsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.accounts.SetNotifications(c.UserContext(), user, payload.Enabled); err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "notifications updated", nil)
}

func (h *AuthHandler) requestReset(c *fiber.Ctx) error {
	var payload dto.ResetPasswordRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.accounts.RequestPasswordReset(c.UserContext(), payload); err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "reset link sent if the account exists", nil)
}

func (h *AuthHandler) peekLink(c *fiber.Ctx) error {
	token, err := parseTokenParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	intent, err := h.accounts.PeekLink(c.UserContext(), token)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "link valid", fiber.Map{"kind": intent.Kind})
}

func (h *AuthHandler) redeemCreateAccount(c *fiber.Ctx) error {
	token, err := parseTokenParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RedeemAccountRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	user, err := h.accounts.RedeemCreateAccount(c.UserContext(), token, payload)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "account created", dto.NewUserResponse(user))
}

func (h *AuthHandler) redeemChangePassword(c *fiber.Ctx) error {
	token, err := parseTokenParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ChangePasswordRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.accounts.RedeemPasswordReset(c.UserContext(), token, payload); err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "password changed", nil)
}

func parseTokenParam(c *fiber.Ctx) (uuid.UUID, error) {
	return parseUUIDParam(c, "token")
}
