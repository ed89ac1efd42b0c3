package middleware

import (
	"errors"
	"log"
	"strings"

	"mocha-rewards/services"

	"github.com/gofiber/fiber/v2"
)

// BearerAuth verifies the Authorization: Bearer token and attaches the caller's
// Identity to c.Locals.
func BearerAuth(verifier *services.TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := verifier.Verify(bearerToken(c.Get("Authorization")))
		if err != nil {
			log.Printf("❌ [Auth] %s %s rejected: %v", c.Method(), c.Path(), err)
			return unauthorized(c, err)
		}
		c.Locals(services.IdentityLocalsKey, id)
		return c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func unauthorized(c *fiber.Ctx, err error) error {
	code := "INVALID_TOKEN"
	if errors.Is(err, services.ErrNoToken) {
		code = "NO_TOKEN"
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Unauthorized",
		"code":  code,
	})
}
