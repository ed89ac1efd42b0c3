package handlers

import (
	"mocha-rewards/middleware"
	"mocha-rewards/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// SetupMemoryRoutes registers the memory endpoints and the realtime transports.
// Static paths are registered before /memory/:id so they are not captured by it.
func SetupMemoryRoutes(app *fiber.App, memoryService *services.MemoryService, hub *services.Hub, verifier *services.TokenVerifier) {
	auth := middleware.BearerAuth(verifier)

	// 🔔 Realtime: token may come from the query string
	app.Get("/memory/events/stream", middleware.QueryTokenAuth(verifier), hub.StreamSSE)
	app.Get("/ws", middleware.WebsocketAuth(verifier), websocket.New(hub.ServeWebsocket))

	// 🔐 Secured routes
	app.Post("/memory", auth, memoryService.HandleCreate)
	app.Get("/memory/tokenId", auth, memoryService.HandleTokenOwnership)
	app.Patch("/memory/redeem", auth, memoryService.HandleRedeem)
	app.Get("/memory/user", auth, memoryService.HandleUserMemories)
	app.Get("/memory/created", auth, memoryService.HandleCreatedMemories)
	app.Get("/memory/:id", auth, memoryService.HandleDetails)
	app.Get("/memory/:id/minters", auth, memoryService.HandleMinters)
	app.Patch("/memory/:id/expire", auth, memoryService.HandleExpire)
}
