package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/utils/jwt"
)

const userKey = "user"

// AuthMiddleware requires a valid bearer token and stores its claims under
// the "user" local. Nothing downstream runs for an unauthenticated request.
func AuthMiddleware(tokens *jwt.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return fmt.Errorf("missing bearer token: %w", apperr.ErrNotAuthenticated)
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			return fmt.Errorf("%v: %w", err, apperr.ErrNotAuthenticated)
		}

		c.Locals(userKey, claims)
		return c.Next()
	}
}

// Claims returns the authenticated caller's claims.
func Claims(c *fiber.Ctx) (*jwt.Claims, bool) {
	claims, ok := c.Locals(userKey).(*jwt.Claims)
	return claims, ok && claims != nil
}

// UserID returns the authenticated user id or ErrNotAuthenticated.
func UserID(c *fiber.Ctx) (string, error) {
	claims, ok := Claims(c)
	if !ok || claims.UserID == "" {
		return "", apperr.ErrNotAuthenticated
	}
	return claims.UserID, nil
}
