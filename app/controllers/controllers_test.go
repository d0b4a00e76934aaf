package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/ManuelReschke/SprayOps/app/repository"
	"github.com/ManuelReschke/SprayOps/internal/pkg/billing"
	"github.com/ManuelReschke/SprayOps/internal/pkg/metrics"
	"github.com/ManuelReschke/SprayOps/internal/pkg/middleware"
	"github.com/ManuelReschke/SprayOps/internal/pkg/organization"
)

const testInvitationCode = "spray-beta-2025"

type apiEnv struct {
	app     *fiber.App
	repos   *repository.Repositories
	gateway *billing.MockGateway
	cfg     billing.Config
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	repos := repository.NewMemoryStore().Repositories()
	gw := billing.NewMockGateway()
	m := metrics.New(prometheus.NewRegistry())

	tiers := billing.DefaultTiers()
	for i := range tiers {
		tiers[i].PriceID = "price_" + tiers[i].ID
	}
	addons := billing.DefaultAddons()
	for i := range addons {
		addons[i].PriceID = "price_" + addons[i].ID
	}

	cfg := billing.Config{
		InvitationCode:     testInvitationCode,
		OwnerEmail:         "owner@sprayops.test",
		CheckoutSuccessURL: "https://app.test/success",
		CheckoutCancelURL:  "https://app.test/cancel",
		PortalReturnURL:    "https://app.test/settings",
	}
	billingSvc := billing.NewService(billing.Deps{
		Organizations: repos.Organization,
		Members:       repos.Member,
		Repository:    billing.NewMemoryRepository(),
		Gateway:       gw,
		Catalog:       billing.NewCatalog(tiers, addons),
		Config:        cfg,
		Metrics:       m,
	})
	orgSvc := organization.NewService(organization.Deps{
		Organizations: repos.Organization,
		Members:       repos.Member,
		Invitations:   repos.Invitation,
		Users:         repos.User,
		Metrics:       m,
	})

	bc := NewBillingController(billingSvc)
	oc := NewOrganizationController(billingSvc, orgSvc)
	ac := NewAccountController(repos.User, repos.Member)

	app := fiber.New()
	app.Get("/billing/plans", bc.HandlePlans)
	app.Get("/billing/addons", bc.HandleAddons)
	app.Post("/webhooks/stripe", bc.HandleStripeWebhook)

	api := app.Group("/api", middleware.APIKeyAuthMiddleware(repos.User, cfg.IsOwnerEmail), middleware.RequireAuth)
	api.Get("/user/account", ac.HandleGetUserAccount)
	api.Post("/organizations", oc.HandleCreateOrganization)
	api.Get("/organizations/members", oc.HandleListMembers)
	api.Get("/organizations/invitations", oc.HandleListInvitations)
	api.Post("/organizations/invitations", oc.HandleCreateInvitation)
	api.Delete("/organizations/invitations/:id", oc.HandleRevokeInvitation)
	api.Post("/invitations/:token/accept", oc.HandleAcceptInvitation)
	api.Post("/invitations/:token/decline", oc.HandleDeclineInvitation)
	api.Post("/billing/checkout", bc.HandleCreateCheckout)
	api.Post("/billing/credits/checkout", bc.HandleCreditCheckout)
	api.Get("/billing/status", bc.HandleStatus)
	api.Post("/billing/portal", bc.HandlePortal)
	api.Post("/billing/cancel", bc.HandleCancel)
	api.Post("/billing/plan", bc.HandleChangePlan)
	api.Post("/billing/credits/consume", bc.HandleConsumeCredits)
	api.Get("/billing/credits/transactions", bc.HandleCreditTransactions)

	return &apiEnv{app: app, repos: repos, gateway: gw, cfg: cfg}
}

func (e *apiEnv) user(t *testing.T, email string) (*models.User, string) {
	t.Helper()
	u, err := models.CreateUser("Crop Duster", email)
	require.NoError(t, err)
	key, err := u.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, e.repos.User.Create(u))
	return u, key
}

func (e *apiEnv) do(t *testing.T, method, path, key string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

func (e *apiEnv) signup(t *testing.T, key string) uint {
	t.Helper()
	status, body := e.do(t, fiber.MethodPost, "/api/organizations", key, fiber.Map{
		"name":            "Valley Aerial",
		"mode":            models.OrganizationModeAgAerial,
		"invitation_code": testInvitationCode,
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	org := body["organization"].(map[string]interface{})
	return uint(org["id"].(float64))
}

func (e *apiEnv) webhook(t *testing.T, ev billing.Event, signature string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", bytes.NewReader(billing.MockEventPayload(ev)))
	req.Header.Set("Stripe-Signature", signature)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode, decodeBody(t, resp)
}

func TestCatalogEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	status, body := env.do(t, fiber.MethodGet, "/billing/plans", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	plans := body["plans"].([]interface{})
	require.Len(t, plans, 3)
	first := plans[0].(map[string]interface{})
	assert.Equal(t, models.PlanStarter, first["id"])
	assert.NotContains(t, first, "PriceID")

	status, body = env.do(t, fiber.MethodGet, "/billing/addons", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["addons"], 3)
}

func TestUnauthenticated(t *testing.T) {
	env := newAPIEnv(t)
	status, body := env.do(t, fiber.MethodGet, "/api/billing/status", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestCreateOrganizationEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	_, key := env.user(t, "pilot@valley.test")
	_, otherKey := env.user(t, "other@valley.test")

	status, body := env.do(t, fiber.MethodPost, "/api/organizations", key, fiber.Map{"name": "V"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/api/organizations", otherKey, fiber.Map{"name": "Other Air", "invitation_code": "wrong"})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "invalid_invitation_code", body["error"])

	env.signup(t, key)
	status, body = env.do(t, fiber.MethodPost, "/api/organizations", key, fiber.Map{"name": "Valley Aerial", "invitation_code": testInvitationCode})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "organization_exists", body["error"])

	status, body = env.do(t, fiber.MethodGet, "/api/user/account", key, nil)
	require.Equal(t, fiber.StatusOK, status)
	membership := body["membership"].(map[string]interface{})
	assert.Equal(t, models.MemberRoleOwner, membership["role"])
}

func TestOwnerBypassEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	_, key := env.user(t, "owner@sprayops.test")

	status, body := env.do(t, fiber.MethodGet, "/api/billing/status", key, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["is_owner_bypass"])
	assert.Equal(t, models.SubscriptionStatusActive, body["status"])
	assert.Equal(t, models.PlanEnterprise, body["plan"])
	assert.Equal(t, float64(billing.DefaultOwnerCredits), body["credits_remaining"])
}

func TestCheckoutEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	_, key := env.user(t, "pilot@valley.test")

	status, body := env.do(t, fiber.MethodPost, "/api/billing/checkout", key, fiber.Map{"plan_id": models.PlanStarter})
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "no_organization", body["error"])

	env.signup(t, key)

	status, body = env.do(t, fiber.MethodPost, "/api/billing/checkout", key, fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = env.do(t, fiber.MethodPost, "/api/billing/checkout", key, fiber.Map{"plan_id": "platinum"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "unknown_plan", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/api/billing/checkout", key, fiber.Map{"plan_id": models.PlanProfessional})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.NotEmpty(t, body["url"])
	assert.NotEmpty(t, body["session_id"])
	require.Len(t, env.gateway.CheckoutInputs, 1)
	assert.Equal(t, "price_professional", env.gateway.CheckoutInputs[0].PriceID)

	status, body = env.do(t, fiber.MethodPost, "/api/billing/credits/checkout", key, fiber.Map{"addon_id": "credits_2000", "quantity": 2})
	require.Equal(t, fiber.StatusOK, status, body)
	require.Len(t, env.gateway.CreditCheckoutInputs, 1)
	assert.Equal(t, "4000", env.gateway.CreditCheckoutInputs[0].Metadata["credits"])

	env.gateway.CreatePortalErr = assert.AnError
	status, body = env.do(t, fiber.MethodPost, "/api/billing/portal", key, nil)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "payment_provider_error", body["error"])
}

func TestWebhookEndpointLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	u, key := env.user(t, "pilot@valley.test")
	orgID := env.signup(t, key)
	org, err := env.repos.Organization.GetByID(orgID)
	require.NoError(t, err)

	status, body := env.webhook(t, billing.Event{ID: "evt_1", Type: billing.EventCheckoutCompleted}, "forged")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])

	id := strconv.FormatUint(uint64(orgID), 10)
	ev := billing.Event{
		ID:   "evt_checkout",
		Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutCompletion{
			SessionID:      "cs_1",
			Mode:           billing.CheckoutModeSubscription,
			CustomerID:     org.CustomerID(),
			SubscriptionID: "sub_1",
			PaymentStatus:  "paid",
			Metadata:       map[string]string{"organization_id": id, "user_id": strconv.FormatUint(uint64(u.ID), 10), "plan_id": models.PlanStarter},
		},
	}
	status, body = env.webhook(t, ev, billing.MockSignature)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["received"])

	status, body = env.webhook(t, ev, billing.MockSignature)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])

	status, body = env.do(t, fiber.MethodGet, "/api/billing/status", key, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, models.SubscriptionStatusActive, body["status"])
	assert.Equal(t, float64(1000), body["credits_remaining"])

	status, body = env.do(t, fiber.MethodPost, "/api/billing/checkout", key, fiber.Map{"plan_id": models.PlanProfessional})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "already_active", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/api/billing/credits/consume", key, fiber.Map{"amount": 400, "description": "label scan"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(600), body["credits_remaining"])

	status, body = env.do(t, fiber.MethodPost, "/api/billing/credits/consume", key, fiber.Map{"amount": 601})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_credits", body["error"])

	status, body = env.do(t, fiber.MethodGet, "/api/billing/credits/transactions", key, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["transactions"], 2)
}

func TestWebhookEndpoint_MalformedPayload(t *testing.T) {
	env := newAPIEnv(t)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", strings.NewReader("{not json"))
	req.Header.Set("Stripe-Signature", billing.MockSignature)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_payload", decodeBody(t, resp)["error"])
}

func TestInvitationEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	_, ownerKey := env.user(t, "pilot@valley.test")
	_, crewKey := env.user(t, "crew@valley.test")
	_, strangerKey := env.user(t, "stranger@elsewhere.test")
	orgID := env.signup(t, ownerKey)

	status, body := env.do(t, fiber.MethodPost, "/api/organizations/invitations", ownerKey, fiber.Map{"email": "not-an-email"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = env.do(t, fiber.MethodPost, "/api/organizations/invitations", ownerKey, fiber.Map{"email": "crew@valley.test", "role": models.MemberRoleViewer})
	require.Equal(t, fiber.StatusCreated, status, body)
	inv := body["invitation"].(map[string]interface{})
	token, _ := inv["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, float64(orgID), inv["organization_id"])

	status, body = env.do(t, fiber.MethodPost, "/api/organizations/invitations", ownerKey, fiber.Map{"email": "crew@valley.test"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "invitation_pending", body["error"])

	status, body = env.do(t, fiber.MethodGet, "/api/organizations/invitations", ownerKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	listed := body["invitations"].([]interface{})
	require.Len(t, listed, 1)
	assert.Equal(t, token, listed[0].(map[string]interface{})["token"])

	status, body = env.do(t, fiber.MethodPost, "/api/invitations/"+token+"/accept", strangerKey, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "invitation_email_mismatch", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/api/invitations/unknown-token/accept", crewKey, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = env.do(t, fiber.MethodPost, "/api/invitations/"+token+"/accept", crewKey, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	member := body["member"].(map[string]interface{})
	assert.Equal(t, models.MemberRoleViewer, member["role"])

	status, body = env.do(t, fiber.MethodGet, "/api/organizations/members", crewKey, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["members"], 2)

	status, body = env.do(t, fiber.MethodPost, "/api/billing/credits/consume", crewKey, fiber.Map{"amount": 1})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = env.do(t, fiber.MethodPost, "/api/organizations/invitations", crewKey, fiber.Map{"email": "x@valley.test"})
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestRevokeAndDeclineEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	_, ownerKey := env.user(t, "pilot@valley.test")
	_, crewKey := env.user(t, "crew@valley.test")
	_, tempKey := env.user(t, "temp@valley.test")
	env.signup(t, ownerKey)

	created := map[string]map[string]interface{}{}
	for _, email := range []string{"crew@valley.test", "temp@valley.test"} {
		status, body := env.do(t, fiber.MethodPost, "/api/organizations/invitations", ownerKey, fiber.Map{"email": email})
		require.Equal(t, fiber.StatusCreated, status, body)
		created[email] = body["invitation"].(map[string]interface{})
	}
	crewToken := created["crew@valley.test"]["token"].(string)
	tempToken := created["temp@valley.test"]["token"].(string)
	tempID := uint(created["temp@valley.test"]["id"].(float64))

	status, _ := env.do(t, fiber.MethodDelete, "/api/organizations/invitations/abc", ownerKey, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = env.do(t, fiber.MethodDelete, "/api/organizations/invitations/"+strconv.FormatUint(uint64(tempID), 10), ownerKey, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, body := env.do(t, fiber.MethodDelete, "/api/organizations/invitations/"+strconv.FormatUint(uint64(tempID), 10), ownerKey, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "invitation_not_pending", body["error"])

	revoked, err := env.repos.Invitation.GetByID(tempID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationStatusExpired, revoked.Status)

	status, body = env.do(t, fiber.MethodPost, "/api/invitations/"+tempToken+"/accept", tempKey, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invitation_expired", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/api/invitations/"+crewToken+"/decline", crewKey, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "declined", body["status"])
}

func TestAdminController(t *testing.T) {
	repos := repository.NewMemoryStore().Repositories()
	u, err := models.CreateUser("Crew", "crew@valley.test")
	require.NoError(t, err)
	require.NoError(t, repos.User.Create(u))

	runner := &countingRunner{}
	ac := NewAdminController(repos.User, runner)
	app := fiber.New()
	app.Post("/maintenance", ac.HandleRunMaintenance)
	app.Post("/users/:id/api-key", ac.HandleIssueAPIKey)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/maintenance", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, runner.runs)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/users/"+strconv.FormatUint(uint64(u.ID), 10)+"/api-key", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	raw := body["api_key"].(string)

	stored, err := repos.User.GetByAPIKeyHash(models.HashAPIKey(raw))
	require.NoError(t, err)
	assert.Equal(t, u.ID, stored.ID)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/users/999/api-key", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

type countingRunner struct{ runs int }

func (r *countingRunner) RunOnce() { r.runs++ }

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))

	now := time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)
	formatted := formatTimePtr(&now)
	assert.IsType(t, "", formatted)
	assert.Equal(t, now.UTC().Format(time.RFC3339), formatted)
}
