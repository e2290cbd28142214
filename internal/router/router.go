package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Merlotec/jdsite/internal/config"
	"github.com/Merlotec/jdsite/internal/handler"
	"github.com/Merlotec/jdsite/internal/middleware"
	"github.com/Merlotec/jdsite/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	AccountHandler *handler.AccountHandler
	OrgHandler     *handler.OrgHandler
	SectionHandler *handler.SectionHandler
	StatsHandler   *handler.StatsHandler
	SessionAuth    fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	sessionAuth := deps.SessionAuth
	if sessionAuth == nil {
		sessionAuth = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Public user endpoints: login, password reset and link redemption.
	user := app.Group("/user")
	if deps.AuthHandler != nil {
		user.Use("/login", middleware.RateLimit("login", 5, time.Minute))
		deps.AuthHandler.RegisterPublic(user)
		deps.AuthHandler.RegisterProtected(user.Group("", sessionAuth))
	}

	if deps.AccountHandler != nil {
		deps.AccountHandler.Register(app.Group("/accounts", sessionAuth))
	}

	if deps.OrgHandler != nil {
		deps.OrgHandler.Register(app.Group("/orgs", sessionAuth))
	}

	if deps.SectionHandler != nil {
		deps.SectionHandler.Register(app.Group("/sections", sessionAuth))
	}

	if deps.StatsHandler != nil {
		deps.StatsHandler.Register(app.Group("/stats", sessionAuth))
	}
}
