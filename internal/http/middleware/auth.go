package middleware

import (
	"github.com/gofiber/fiber/v2"

	"pyqapi/internal/auth"
)

// ClaimsLocalKey is the key under which verified admin claims are stored in Fiber's context locals.
const ClaimsLocalKey = "claims"

// RequireAdmin rejects requests without a valid admin bearer token before any handler runs.
// Failures surface as fiber.ErrUnauthorized for the global error handler.
func RequireAdmin(v auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := v.Verify(auth.BearerToken(c.Get(fiber.HeaderAuthorization)))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		c.Locals(ClaimsLocalKey, claims)
		return c.Next()
	}
}

// ClaimsFromCtx returns the claims stored by RequireAdmin, if any.
func ClaimsFromCtx(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(ClaimsLocalKey).(*auth.Claims)
	return claims
}
