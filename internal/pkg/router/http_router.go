package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/ManuelReschke/SprayOps/internal/api/v1"
)

type HttpRouter struct {
	deps   Dependencies
	server *apiv1.APIServer
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	h.registerPublicRoutes(app)
	h.registerOperatorRoutes(app)
}

func NewHttpRouter(deps Dependencies, server *apiv1.APIServer) *HttpRouter {
	return &HttpRouter{deps: deps, server: server}
}
