package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// registerOperatorRoutes mounts /metrics and /monitor behind basic auth.
// Both stay unmounted while no operator password is configured.
func (h HttpRouter) registerOperatorRoutes(app *fiber.App) {
	if h.deps.MetricsPassword == "" {
		return
	}
	user := h.deps.MetricsUser
	if user == "" {
		user = "admin"
	}
	auth := basicauth.New(basicauth.Config{
		Users: map[string]string{user: h.deps.MetricsPassword},
	})

	if h.deps.Metrics != nil {
		app.Get("/metrics", auth, adaptor.HTTPHandler(h.deps.Metrics.Handler()))
	}
	app.Get("/monitor", auth, monitor.New(monitor.Config{Title: "SprayOps Monitor"}))
}
