package billing

import (
	"strings"

	"github.com/ManuelReschke/SprayOps/internal/pkg/env"
)

// DefaultOwnerCredits is the credit total reported for the owner-bypass
// organization.
const DefaultOwnerCredits = 999999

// Config holds the environment-provided billing settings.
type Config struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	InvitationCode      string
	OwnerEmail          string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	PortalReturnURL     string
	TrialDays           int64
	OwnerCredits        int
}

// ConfigFromEnv reads the billing configuration from the environment.
func ConfigFromEnv() Config {
	appURL := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
	trialDays := env.GetEnvInt("STRIPE_TRIAL_DAYS", 0)
	if trialDays < 0 {
		trialDays = 0
	}
	ownerCredits := env.GetEnvInt("OWNER_CREDITS", DefaultOwnerCredits)
	if ownerCredits <= 0 {
		ownerCredits = DefaultOwnerCredits
	}
	return Config{
		StripeSecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		InvitationCode:      env.GetEnv("INVITATION_CODE", ""),
		OwnerEmail:          strings.ToLower(strings.TrimSpace(env.GetEnv("OWNER_EMAIL", ""))),
		CheckoutSuccessURL:  env.GetEnv("CHECKOUT_SUCCESS_URL", appURL+"/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CheckoutCancelURL:   env.GetEnv("CHECKOUT_CANCEL_URL", appURL+"/billing/canceled"),
		PortalReturnURL:     env.GetEnv("PORTAL_RETURN_URL", appURL+"/settings/billing"),
		TrialDays:           int64(trialDays),
		OwnerCredits:        ownerCredits,
	}
}

// IsOwnerEmail reports whether email belongs to the configured bypass owner.
func (c Config) IsOwnerEmail(email string) bool {
	return c.OwnerEmail != "" && strings.EqualFold(strings.TrimSpace(email), c.OwnerEmail)
}

func (c Config) ownerCredits() int {
	if c.OwnerCredits > 0 {
		return c.OwnerCredits
	}
	return DefaultOwnerCredits
}
