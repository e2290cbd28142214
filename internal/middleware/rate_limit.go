package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimit creates a per-client rate limiter middleware instance. Requests
// are keyed by session token when one is present, falling back to client IP
// for unauthenticated routes such as login.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if token, ok := TokenFromCtx(c); ok {
				return fmt.Sprintf("%s:%s", identifier, token)
			}
			return fmt.Sprintf("%s:%s", identifier, c.IP())
		},
	})
}
