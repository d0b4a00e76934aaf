package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const healthTimeout = 2 * time.Second

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/health", h.handleHealth)

	// Stripe posts here; the body must stay untouched for signature checks.
	app.Post("/webhooks/stripe", h.server.WebhookHandler())
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	if h.deps.Health == nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	if err := h.deps.Health(ctx); err != nil {
		log.Warnf("[API] Health check failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
