package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/ManuelReschke/SprayOps/internal/api/v1"
)

const defaultLimiterMax = 120

type ApiRouter struct {
	deps   Dependencies
	server *apiv1.APIServer
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	max := h.deps.LimiterMax
	if max <= 0 {
		max = defaultLimiterMax
	}
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, h.server)
}

func NewApiRouter(deps Dependencies, server *apiv1.APIServer) *ApiRouter {
	return &ApiRouter{deps: deps, server: server}
}
