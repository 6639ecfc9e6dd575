package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mindtune/api/internal/auth"
	"github.com/mindtune/api/pkg/response"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers
// set by Traefik ForwardAuth and populates Fiber context locals.
// The original Authorization header is kept for forwarding.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		token, _ := bearerToken(c.Get("Authorization"))
		setPrincipal(c, auth.Principal{
			UserID: userID,
			Email:  c.Get("X-User-Email"),
			Name:   c.Get("X-User-Name"),
			Role:   auth.ParseRole(c.Get("X-User-Role")),
		}, token)

		return c.Next()
	}
}
