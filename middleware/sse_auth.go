package middleware

import (
	"log"
	"strings"

	"mocha-rewards/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// QueryTokenAuth is BearerAuth for clients that cannot set headers (EventSource,
// browser websockets). The token is read from the `token` query param, then from
// the Authorization header.
//
// Usage:
//
//	app.Get("/memory/events/stream", middleware.QueryTokenAuth(verifier), hub.StreamSSE)
func QueryTokenAuth(verifier *services.TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Query("token"))
		if raw == "" {
			raw = bearerToken(c.Get("Authorization"))
		}
		id, err := verifier.Verify(raw)
		if err != nil {
			log.Printf("❌ [Auth] stream auth failed for %s (token len=%d): %v", c.IP(), len(raw), err)
			return unauthorized(c, err)
		}
		c.Locals(services.IdentityLocalsKey, id)
		log.Printf("[Auth] ✅ stream authenticated for %s", id.Wallet)
		return c.Next()
	}
}

// WebsocketAuth rejects anything that is not a websocket upgrade, then authenticates
// the handshake before any channel subscription is possible.
func WebsocketAuth(verifier *services.TokenVerifier) fiber.Handler {
	tokenAuth := QueryTokenAuth(verifier)
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
				"error": "websocket upgrade required",
			})
		}
		return tokenAuth(c)
	}
}
