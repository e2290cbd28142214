package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/dto"
	"github.com/Merlotec/jdsite/internal/middleware"
	"github.com/Merlotec/jdsite/internal/service"
	"github.com/Merlotec/jdsite/internal/utils"
)

// AccountHandler exposes privileged account administration.
type AccountHandler struct {
	accounts *service.AccountService
	logger   zerolog.Logger
}

func NewAccountHandler(accounts *service.AccountService, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger.With().Str("component", "account_handler").Logger(),
	}
}

func (h *AccountHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/", h.create)
	router.Post("/invite", h.invite)
	router.Get("/:id", h.get)
	router.Delete("/:id", h.remove)
}

func (h *AccountHandler) list(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	accounts, err := h.accounts.ListAccounts(c.UserContext(), actor)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "accounts retrieved", accounts)
}

func (h *AccountHandler) create(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.CreateUserRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	user, err := h.accounts.CreateUser(c.UserContext(), actor, payload)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	requestLogger(h.logger, c).Info().
		Str("user_id", user.ID.String()).
		Str("role", string(user.Role.Kind)).
		Msg("account created")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "account created", dto.NewUserResponse(user))
}

func (h *AccountHandler) invite(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.CreateLinkRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	link, err := h.accounts.CreateAccountLink(c.UserContext(), actor, payload)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "invitation sent", link)
}

func (h *AccountHandler) get(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	targetID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	resp, err := h.accounts.GetUser(c.UserContext(), actor, targetID)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "account retrieved", resp)
}

func (h *AccountHandler) remove(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	targetID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.accounts.DeleteUser(c.UserContext(), actor, targetID); err != nil {
		return utils.SendAppError(c, err)
	}

	requestLogger(h.logger, c).Info().Str("user_id", targetID.String()).Msg("account deleted")
	return utils.SendSuccess(c, "account deleted", nil)
}
