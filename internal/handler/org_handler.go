package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/dto"
	"github.com/Merlotec/jdsite/internal/middleware"
	"github.com/Merlotec/jdsite/internal/service"
	"github.com/Merlotec/jdsite/internal/utils"
)

// OrgHandler exposes organisation administration.
type OrgHandler struct {
	orgs   *service.OrgService
	logger zerolog.Logger
}

func NewOrgHandler(orgs *service.OrgService, logger zerolog.Logger) *OrgHandler {
	return &OrgHandler{
		orgs:   orgs,
		logger: logger.With().Str("component", "org_handler").Logger(),
	}
}

func (h *OrgHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/", h.create)
	router.Get("/:id", h.get)
	router.Post("/:id/credits", h.addCredits)
	router.Delete("/:id", h.remove)
}

func (h *OrgHandler) list(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	orgs, err := h.orgs.List(c.UserContext(), actor)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	out := make([]dto.OrgResponse, 0, len(orgs))
	for _, org := range orgs {
		out = append(out, dto.NewOrgResponse(org))
	}
	return utils.SendSuccess(c, "organisations retrieved", out)
}

func (h *OrgHandler) create(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.CreateOrgRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	org, err := h.orgs.Create(c.UserContext(), actor, payload)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	requestLogger(h.logger, c).Info().Str("org_id", org.ID.String()).Msg("organisation created")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "organisation created", dto.NewOrgResponse(org))
}

func (h *OrgHandler) get(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	orgID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	org, err := h.orgs.Get(c.UserContext(), actor, orgID)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "organisation retrieved", dto.NewOrgResponse(org))
}

func (h *OrgHandler) addCredits(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	orgID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AddCreditsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	org, err := h.orgs.AddCredits(c.UserContext(), actor, orgID, payload)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "credits added", dto.NewOrgResponse(org))
}

func (h *OrgHandler) remove(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	orgID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.orgs.Delete(c.UserContext(), actor, orgID); err != nil {
		return utils.SendAppError(c, err)
	}

	requestLogger(h.logger, c).Info().Str("org_id", orgID.String()).Msg("organisation deleted")
	return utils.SendSuccess(c, "organisation deleted", nil)
}
