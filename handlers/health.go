package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupHealthRoutes registers the liveness and readiness probes.
func SetupHealthRoutes(app *fiber.App, db *gorm.DB) {
	// Liveness: the process is serving requests.
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "type": "liveness"})
	})

	// Readiness: the database answers a ping.
	app.Get("/readyz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "not ready",
				"type":    "readiness",
				"message": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ready", "type": "readiness"})
	})
}
