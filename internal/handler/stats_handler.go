package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/middleware"
	"github.com/Merlotec/jdsite/internal/service"
	"github.com/Merlotec/jdsite/internal/utils"
)

// StatsHandler exposes the activity-selection and completion counts.
type StatsHandler struct {
	stats  *service.StatsService
	logger zerolog.Logger
}

func NewStatsHandler(stats *service.StatsService, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logger.With().Str("component", "stats_handler").Logger(),
	}
}

func (h *StatsHandler) Register(router fiber.Router) {
	router.Get("/", h.global)
	router.Get("/org/:id", h.perOrg)
}

func (h *StatsHandler) global(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	stats, err := h.stats.Compute(c.UserContext(), actor, nil)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "statistics computed", stats)
}

func (h *StatsHandler) perOrg(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	orgID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stats, err := h.stats.Compute(c.UserContext(), actor, &orgID)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "statistics computed", stats)
}
