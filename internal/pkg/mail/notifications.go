package mail

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/ManuelReschke/SprayOps/internal/pkg/env"
	"github.com/ManuelReschke/SprayOps/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2/log"
)

// Notifications renders the transactional mails of the application.
type Notifications struct {
	sender     Sender
	ownerEmail string
	baseURL    string
}

func NewNotifications(sender Sender, ownerEmail, baseURL string) *Notifications {
	return &Notifications{
		sender:     sender,
		ownerEmail: strings.TrimSpace(ownerEmail),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// NewNotificationsFromEnv wires the SMTP mailer with OWNER_EMAIL and
// PUBLIC_DOMAIN. It returns nil when no SMTP host is configured.
func NewNotificationsFromEnv() *Notifications {
	smtpMailer := NewSMTPMailerFromEnv()
	if !smtpMailer.Enabled() {
		log.Info("[Mail] SMTP_HOST not set, notification mails disabled")
		return nil
	}
	return NewNotifications(smtpMailer, env.GetEnv("OWNER_EMAIL", ""), env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"))
}

// NotifyOrganizationCreated tells the platform owner about a new signup.
func (n *Notifications) NotifyOrganizationCreated(ctx context.Context, org *models.Organization, owner usercontext.UserContext) error {
	if n.ownerEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("New organization: %s", org.Name)
	body := fmt.Sprintf(
		"<p>A new organization signed up.</p>"+
			"<ul><li>Name: %s</li><li>Mode: %s</li><li>Owner: %s (%s)</li><li>Plan: %s</li><li>Status: %s</li></ul>",
		html.EscapeString(org.Name),
		html.EscapeString(org.Mode),
		html.EscapeString(owner.Username),
		html.EscapeString(org.OwnerEmail),
		html.EscapeString(org.Plan),
		html.EscapeString(org.SubscriptionStatus),
	)
	return n.sender.Send(ctx, n.ownerEmail, subject, body)
}

// SendInvitation mails the token and the accept endpoint to the invited
// address. Accepting is an API call, so the mail carries no clickable link.
func (n *Notifications) SendInvitation(ctx context.Context, inv *models.OrganizationInvitation, org *models.Organization, inviter usercontext.UserContext) error {
	link := n.InvitationURL(inv.Token)
	subject := fmt.Sprintf("You have been invited to join %s", org.Name)

	from := inviter.Username
	if from == "" {
		from = inviter.Email
	}
	body := fmt.Sprintf(
		"<p>%s invited you to join <strong>%s</strong> as %s.</p>"+
			"<p>Invitation token: <code>%s</code></p>"+
			"<p>To accept, send an authenticated <code>POST %s</code> with your API key.</p>"+
			"<p>The invitation expires on %s.</p>",
		html.EscapeString(from),
		html.EscapeString(org.Name),
		html.EscapeString(inv.Role),
		html.EscapeString(inv.Token),
		html.EscapeString(link),
		inv.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
	)
	return n.sender.Send(ctx, inv.Email, subject, body)
}

// InvitationURL builds the accept endpoint for a token.
func (n *Notifications) InvitationURL(token string) string {
	return fmt.Sprintf("%s/api/v1/invitations/%s/accept", n.baseURL, token)
}
