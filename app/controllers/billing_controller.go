package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SprayOps/internal/pkg/billing"
	"github.com/ManuelReschke/SprayOps/internal/pkg/usercontext"
)

const billingRequestTimeout = 20 * time.Second

// BillingController exposes the subscription lifecycle over JSON
type BillingController struct {
	billing *billing.Service
}

// NewBillingController creates a new billing controller
func NewBillingController(svc *billing.Service) *BillingController {
	return &BillingController{billing: svc}
}

type checkoutRequest struct {
	PlanID     string `json:"plan_id" validate:"required,max=50"`
	CouponCode string `json:"coupon_code" validate:"max=100"`
}

type creditCheckoutRequest struct {
	AddonID  string `json:"addon_id" validate:"required,max=50"`
	Quantity int    `json:"quantity" validate:"omitempty,min=1,max=100"`
}

type cancelRequest struct {
	Immediately bool `json:"immediately"`
}

type changePlanRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=50"`
}

type consumeCreditsRequest struct {
	Amount      int    `json:"amount" validate:"required,min=1,max=1000000"`
	Description string `json:"description" validate:"max=255"`
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), billingRequestTimeout)
}

// HandlePlans lists the subscription tiers
func (bc *BillingController) HandlePlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": bc.billing.Catalog().Tiers()})
}

// HandleAddons lists the credit packs
func (bc *BillingController) HandleAddons(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"addons": bc.billing.Catalog().Addons()})
}

// HandleCreateCheckout starts a subscription checkout
func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	var in checkoutRequest
	if err := parseAndValidate(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	session, err := bc.billing.CreateCheckout(ctx, usercontext.GetUserContext(c), in.PlanID, in.CouponCode)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// HandleCreditCheckout starts a one-time credit purchase
func (bc *BillingController) HandleCreditCheckout(c *fiber.Ctx) error {
	var in creditCheckoutRequest
	if err := parseAndValidate(c, &in); err != nil {
		return respondError(c, err)
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	session, err := bc.billing.PurchaseCredits(ctx, usercontext.GetUserContext(c), in.AddonID, in.Quantity)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// HandleStatus returns the subscription summary of the caller's organization
func (bc *BillingController) HandleStatus(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	status, err := bc.billing.GetSubscriptionStatus(ctx, usercontext.GetUserContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

// HandlePortal returns the hosted billing portal link
func (bc *BillingController) HandlePortal(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	url, err := bc.billing.GetPortalURL(ctx, usercontext.GetUserContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleCancel cancels the subscription at period end or immediately
func (bc *BillingController) HandleCancel(c *fiber.Ctx) error {
	var in cancelRequest
	if err := parseAndValidate(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	snap, err := bc.billing.CancelSubscription(ctx, usercontext.GetUserContext(c), in.Immediately)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": snap})
}

// HandleChangePlan switches the subscription to another tier
func (bc *BillingController) HandleChangePlan(c *fiber.Ctx) error {
	var in changePlanRequest
	if err := parseAndValidate(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	org, err := bc.billing.ChangePlan(ctx, usercontext.GetUserContext(c), in.PlanID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"organization": org})
}

// HandleConsumeCredits deducts credits for a job
func (bc *BillingController) HandleConsumeCredits(c *fiber.Ctx) error {
	var in consumeCreditsRequest
	if err := parseAndValidate(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	balance, err := bc.billing.ConsumeCredits(ctx, usercontext.GetUserContext(c), in.Amount, in.Description)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(balance)
}

// HandleCreditTransactions lists the latest credit movements
func (bc *BillingController) HandleCreditTransactions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	txs, err := bc.billing.ListCreditTransactions(c.UserContext(), usercontext.GetUserContext(c), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

// HandleStripeWebhook receives payment processor events. Any non-2xx answer
// makes the processor retry.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns
	payload := append([]byte(nil), c.Body()...)
	signature := c.Get("Stripe-Signature")

	result, err := bc.billing.HandleWebhook(context.Background(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			log.Warnf("[Webhook] Rejected delivery: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
		case errors.Is(err, billing.ErrInvalidInput):
			log.Warnf("[Webhook] Rejected delivery: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Webhook payload could not be parsed"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_failed", "message": "Webhook handling failed"})
	}

	resp := fiber.Map{"received": true}
	if result.Duplicate {
		resp["duplicate"] = true
	}
	if result.Test {
		resp["test"] = true
	}
	return c.JSON(resp)
}
