package router

import (
	"context"

	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/ManuelReschke/SprayOps/internal/api/v1"
	"github.com/ManuelReschke/SprayOps/internal/pkg/metrics"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies is everything the routers need. LimiterStorage and Health
// are optional; without storage the limiter keeps its counters in memory.
type Dependencies struct {
	apiv1.Deps

	Metrics         *metrics.Metrics
	LimiterStorage  fiber.Storage
	LimiterMax      int
	MetricsUser     string
	MetricsPassword string
	Health          func(ctx context.Context) error
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	server := apiv1.NewAPIServer(deps.Deps)
	// Webhooks and health checks go first so the API limiter never sees them.
	setup(app, NewHttpRouter(deps, server), NewApiRouter(deps, server))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
