package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mindtune/api/internal/auth"
	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string // fallback for legacy tokens
}

// NewAuthMiddleware creates a new auth middleware with Zitadel JWKS verification
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// NewAuthMiddlewareWithFallback creates auth middleware with both JWKS and legacy HMAC support
func NewAuthMiddlewareWithFallback(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
	}
}

// Authenticate validates the bearer token and stores the caller in locals.
// The raw token is kept so it can be forwarded to collaborators.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c.Get("Authorization"))
		if !ok && c.Get("Authorization") == "" && isWebSocketUpgrade(c) {
			// browsers cannot set headers on a websocket handshake
			tokenString = c.Query("access_token")
			ok = tokenString != ""
		}
		if !ok {
			if c.Get("Authorization") == "" {
				return response.Unauthorized(c, "Missing authorization header")
			}
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		// Try Zitadel JWKS verification first
		if m.verifier != nil {
			principal, err := m.verifier.Verify(tokenString)
			if err == nil {
				setPrincipal(c, principal, tokenString)
				return c.Next()
			}
			if m.jwtSecret == "" {
				return response.Unauthorized(c, "Invalid or expired token")
			}
		}

		// Fallback to legacy HMAC verification
		if m.jwtSecret != "" {
			claims, err := auth.ValidateLegacyToken(tokenString, m.jwtSecret)
			if err != nil {
				return response.Unauthorized(c, "Invalid or expired token")
			}

			setPrincipal(c, claims.Principal(), tokenString)
			return c.Next()
		}

		return response.Unauthorized(c, "Authentication not configured")
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func isWebSocketUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}

func setPrincipal(c *fiber.Ctx, p auth.Principal, token string) {
	c.Locals("userId", p.UserID)
	c.Locals("email", p.Email)
	c.Locals("name", p.Name)
	c.Locals("role", p.Role)
	c.Locals("token", token)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserName extracts user name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals("name").(string); ok {
		return name
	}
	return ""
}

// GetCaller returns the authenticated caller with its forwardable credential
func GetCaller(c *fiber.Ctx) model.Caller {
	caller := model.Caller{UserID: GetUserID(c), Role: model.RolePatient}
	if role, ok := c.Locals("role").(model.Role); ok && role != "" {
		caller.Role = role
	}
	if token, ok := c.Locals("token").(string); ok {
		caller.Credential = token
	}
	return caller
}
