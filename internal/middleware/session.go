package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/service"
	"github.com/Merlotec/jdsite/internal/utils"
)

// SessionCookie is the fixed cookie name carrying the session token.
const SessionCookie = "session_token"

// SessionAuth resolves the session cookie to a user, sliding the session
// expiry forward, and stores the principal in the request locals. Requests
// without a valid session are rejected as unauthenticated.
func SessionAuth(accounts *service.AccountService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Cookies(SessionCookie)
		if raw == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}

		token, err := uuid.Parse(raw)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "malformed session token")
		}

		user, err := accounts.Authenticate(c.UserContext(), token, true)
		if err != nil {
			return utils.SendAppError(c, err)
		}

		c.Locals("user", user)
		c.Locals("session_token", token)
		return c.Next()
	}
}

// UserFromCtx returns the authenticated principal bound to the request.
func UserFromCtx(c *fiber.Ctx) (models.User, bool) {
	user, ok := c.Locals("user").(models.User)
	return user, ok
}

// TokenFromCtx returns the session token bound to the request.
func TokenFromCtx(c *fiber.Ctx) (uuid.UUID, bool) {
	token, ok := c.Locals("session_token").(uuid.UUID)
	return token, ok
}
