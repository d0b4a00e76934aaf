package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/ManuelReschke/SprayOps/internal/pkg/billing"
	"github.com/ManuelReschke/SprayOps/internal/pkg/organization"
	"github.com/ManuelReschke/SprayOps/internal/pkg/usercontext"
)

// OrganizationController handles signup, memberships and invitations
type OrganizationController struct {
	billing       *billing.Service
	organizations *organization.Service
}

// invitationView is what owners and admins see of an invitation. It adds the
// redemption token that the model keeps out of its own JSON, so an invite
// can be handed over even when no mail was sent.
type invitationView struct {
	models.OrganizationInvitation
	Token string `json:"token"`
}

func newInvitationView(inv models.OrganizationInvitation) invitationView {
	return invitationView{OrganizationInvitation: inv, Token: inv.Token}
}

// NewOrganizationController creates a new organization controller
func NewOrganizationController(billingSvc *billing.Service, orgSvc *organization.Service) *OrganizationController {
	return &OrganizationController{billing: billingSvc, organizations: orgSvc}
}

// HandleCreateOrganization signs the caller up as owner of a new organization
func (oc *OrganizationController) HandleCreateOrganization(c *fiber.Ctx) error {
	var in billing.CreateOrganizationInput
	if err := parseAndValidate(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := oc.billing.CreateOrganization(ctx, usercontext.GetUserContext(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleListMembers lists the members of the caller's organization
func (oc *OrganizationController) HandleListMembers(c *fiber.Ctx) error {
	members, err := oc.organizations.ListMembers(c.UserContext(), usercontext.GetUserContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"members": members})
}

// HandleListInvitations lists open invitations
func (oc *OrganizationController) HandleListInvitations(c *fiber.Ctx) error {
	invs, err := oc.organizations.ListInvitations(c.UserContext(), usercontext.GetUserContext(c))
	if err != nil {
		return respondError(c, err)
	}
	views := make([]invitationView, 0, len(invs))
	for _, inv := range invs {
		views = append(views, newInvitationView(inv))
	}
	return c.JSON(fiber.Map{"invitations": views})
}

// HandleCreateInvitation invites an email address into the organization
func (oc *OrganizationController) HandleCreateInvitation(c *fiber.Ctx) error {
	var in organization.InviteInput
	if err := parseAndValidate(c, &in); err != nil {
		return respondError(c, err)
	}
	inv, err := oc.organizations.InviteMember(c.UserContext(), usercontext.GetUserContext(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"invitation": newInvitationView(*inv)})
}

// HandleRevokeInvitation withdraws a pending invitation
func (oc *OrganizationController) HandleRevokeInvitation(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_input", "message": "invalid invitation id"})
	}
	if err := oc.organizations.RevokeInvitation(c.UserContext(), usercontext.GetUserContext(c), uint(id)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleAcceptInvitation joins the caller to the inviting organization
func (oc *OrganizationController) HandleAcceptInvitation(c *fiber.Ctx) error {
	member, err := oc.organizations.AcceptInvitation(c.UserContext(), usercontext.GetUserContext(c), c.Params("token"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"member": member})
}

// HandleDeclineInvitation declines an invitation
func (oc *OrganizationController) HandleDeclineInvitation(c *fiber.Ctx) error {
	if err := oc.organizations.DeclineInvitation(c.UserContext(), usercontext.GetUserContext(c), c.Params("token")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "declined"})
}
