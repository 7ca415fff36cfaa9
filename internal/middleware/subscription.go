package middleware

import (
	"github.com/gofiber/fiber/v2"

	"nourish_backend/internal/entitlement"
	"nourish_backend/pkg/subscription"
)

// CheckSubscriptionFeature admits the request only when the caller's tier
// grants feature. Denials are answered with 403 and the check result.
func CheckSubscriptionFeature(ent *entitlement.Service, feature subscription.Feature) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}

		res, err := ent.Check(c.UserContext(), userID, feature)
		if err != nil {
			return err
		}
		if !res.Allowed {
			return c.Status(fiber.StatusForbidden).JSON(res)
		}

		return c.Next()
	}
}
