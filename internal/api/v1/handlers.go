package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SprayOps/app/controllers"
	"github.com/ManuelReschke/SprayOps/app/repository"
	"github.com/ManuelReschke/SprayOps/internal/pkg/billing"
	"github.com/ManuelReschke/SprayOps/internal/pkg/middleware"
	"github.com/ManuelReschke/SprayOps/internal/pkg/organization"
)

// Pong is the body of the ping endpoint
type Pong struct {
	Ping string `json:"ping"`
}

// Deps are the services behind the v1 API.
type Deps struct {
	Repositories  *repository.Repositories
	Billing       *billing.Service
	Organizations *organization.Service
	Maintenance   controllers.MaintenanceRunner
	OwnerMatcher  middleware.OwnerMatcher
}

// APIServer bundles the v1 controllers
type APIServer struct {
	billing       *controllers.BillingController
	organizations *controllers.OrganizationController
	account       *controllers.AccountController
	admin         *controllers.AdminController
	auth          fiber.Handler
}

// NewAPIServer creates a new API server instance
func NewAPIServer(d Deps) *APIServer {
	return &APIServer{
		billing:       controllers.NewBillingController(d.Billing),
		organizations: controllers.NewOrganizationController(d.Billing, d.Organizations),
		account:       controllers.NewAccountController(d.Repositories.User, d.Repositories.Member),
		admin:         controllers.NewAdminController(d.Repositories.User, d.Maintenance),
		auth:          middleware.APIKeyAuthMiddleware(d.Repositories.User, d.OwnerMatcher),
	}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// WebhookHandler is mounted outside the rate-limited API group.
func (s *APIServer) WebhookHandler() fiber.Handler {
	return s.billing.HandleStripeWebhook
}

// RegisterHandlers mounts all v1 routes on router.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	// public catalog
	router.Get("/billing/plans", s.billing.HandlePlans)
	router.Get("/billing/addons", s.billing.HandleAddons)

	// API key protected
	auth := router.Group("", s.auth, middleware.RequireAuth)
	auth.Get("/user/account", s.account.HandleGetUserAccount)

	auth.Post("/organizations", s.organizations.HandleCreateOrganization)
	auth.Get("/organizations/members", s.organizations.HandleListMembers)
	auth.Get("/organizations/invitations", s.organizations.HandleListInvitations)
	auth.Post("/organizations/invitations", s.organizations.HandleCreateInvitation)
	auth.Delete("/organizations/invitations/:id", s.organizations.HandleRevokeInvitation)
	auth.Post("/invitations/:token/accept", s.organizations.HandleAcceptInvitation)
	auth.Post("/invitations/:token/decline", s.organizations.HandleDeclineInvitation)

	auth.Post("/billing/checkout", s.billing.HandleCreateCheckout)
	auth.Post("/billing/credits/checkout", s.billing.HandleCreditCheckout)
	auth.Get("/billing/status", s.billing.HandleStatus)
	auth.Post("/billing/portal", s.billing.HandlePortal)
	auth.Post("/billing/cancel", s.billing.HandleCancel)
	auth.Post("/billing/plan", s.billing.HandleChangePlan)
	auth.Post("/billing/credits/consume", s.billing.HandleConsumeCredits)
	auth.Get("/billing/credits/transactions", s.billing.HandleCreditTransactions)

	admin := auth.Group("/admin", middleware.RequireAdmin)
	admin.Post("/maintenance", s.admin.HandleRunMaintenance)
	admin.Post("/users/:id/api-key", s.admin.HandleIssueAPIKey)
}
