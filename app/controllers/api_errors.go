package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SprayOps/internal/pkg/billing"
	"github.com/ManuelReschke/SprayOps/internal/pkg/organization"
)

var validate = validator.New()

type businessError struct {
	err    error
	status int
	code   string
}

// businessErrors maps service errors to HTTP responses. Order matters only
// for errors that wrap each other.
var businessErrors = []businessError{
	{billing.ErrInvalidInput, fiber.StatusBadRequest, "invalid_input"},
	{billing.ErrUnknownPlan, fiber.StatusBadRequest, "unknown_plan"},
	{billing.ErrUnknownAddon, fiber.StatusBadRequest, "unknown_addon"},
	{billing.ErrUnknownPrice, fiber.StatusBadRequest, "unknown_price"},
	{billing.ErrInvalidSignature, fiber.StatusBadRequest, "invalid_signature"},
	{organization.ErrInvalidEmail, fiber.StatusBadRequest, "invalid_email"},
	{organization.ErrInvalidRole, fiber.StatusBadRequest, "invalid_role"},
	{organization.ErrInvitationExpired, fiber.StatusBadRequest, "invitation_expired"},

	{billing.ErrInsufficientCredits, fiber.StatusPaymentRequired, "insufficient_credits"},

	{billing.ErrInvalidInvitationCode, fiber.StatusForbidden, "invalid_invitation_code"},
	{billing.ErrForbidden, fiber.StatusForbidden, "forbidden"},
	{organization.ErrForbidden, fiber.StatusForbidden, "forbidden"},
	{organization.ErrInvitationEmailMismatch, fiber.StatusForbidden, "invitation_email_mismatch"},

	{billing.ErrNoOrganization, fiber.StatusNotFound, "no_organization"},
	{organization.ErrNoOrganization, fiber.StatusNotFound, "no_organization"},
	{billing.ErrNoSubscription, fiber.StatusNotFound, "no_subscription"},
	{organization.ErrInvitationNotFound, fiber.StatusNotFound, "invitation_not_found"},

	{billing.ErrOrganizationExists, fiber.StatusConflict, "organization_exists"},
	{billing.ErrAlreadyActive, fiber.StatusConflict, "already_active"},
	{billing.ErrNoCustomer, fiber.StatusConflict, "no_customer"},
	{organization.ErrAlreadyMember, fiber.StatusConflict, "already_member"},
	{organization.ErrInvitationPending, fiber.StatusConflict, "invitation_pending"},
	{organization.ErrInvitationNotPending, fiber.StatusConflict, "invitation_not_pending"},
}

// respondError writes the JSON error body for err.
func respondError(c *fiber.Ctx, err error) error {
	for _, be := range businessErrors {
		if errors.Is(err, be.err) {
			return c.Status(be.status).JSON(fiber.Map{"error": be.code, "message": err.Error()})
		}
	}

	var gwErr *billing.GatewayError
	if errors.As(err, &gwErr) {
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_provider_error", "message": "The payment provider could not process the request"})
	}

	log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Internal server error"})
}

// parseAndValidate decodes the JSON body into dst and runs its validate
// tags. Failures wrap billing.ErrInvalidInput.
func parseAndValidate(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return fmt.Errorf("%w: malformed request body", billing.ErrInvalidInput)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", billing.ErrInvalidInput, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
