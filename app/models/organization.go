package models

import (
	"strings"
	"time"
)

// Operating modes an organization can sign up with.
const (
	OrganizationModeAgAerial        = "ag_aerial"
	OrganizationModeResidentialPest = "residential_pest"
	OrganizationModeBoth            = "both"
)

// Internal plan identifiers.
const (
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// Subscription states tracked on the organization row.
const (
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
)

// Organization is a billing tenant. It is the unit of subscription and
// credit accounting.
type Organization struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Name                 string     `gorm:"type:varchar(150);not null" json:"name"`
	OwnerUserID          uint       `gorm:"not null;uniqueIndex:ux_organizations_owner_user" json:"owner_user_id"`
	OwnerEmail           string     `gorm:"type:varchar(200);not null;uniqueIndex:ux_organizations_owner_email" json:"-"`
	Mode                 string     `gorm:"type:varchar(32);not null;default:'ag_aerial'" json:"mode"`
	ContactEmail         string     `gorm:"type:varchar(200);default:''" json:"contact_email,omitempty"`
	Phone                string     `gorm:"type:varchar(50);default:''" json:"phone,omitempty"`
	AddressLine1         string     `gorm:"type:varchar(200);default:''" json:"address_line1,omitempty"`
	AddressLine2         string     `gorm:"type:varchar(200);default:''" json:"address_line2,omitempty"`
	City                 string     `gorm:"type:varchar(100);default:''" json:"city,omitempty"`
	State                string     `gorm:"type:varchar(100);default:''" json:"state,omitempty"`
	PostalCode           string     `gorm:"type:varchar(20);default:''" json:"postal_code,omitempty"`
	StripeCustomerID     *string    `gorm:"type:varchar(191);uniqueIndex:ux_organizations_stripe_customer" json:"-"`
	StripeSubscriptionID *string    `gorm:"type:varchar(191);index" json:"-"`
	Plan                 string     `gorm:"type:varchar(50);not null;default:'starter'" json:"plan"`
	SubscriptionStatus   string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"subscription_status"`
	BillingPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"billing_period_start,omitempty"`
	BillingPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"billing_period_end,omitempty"`
	CreditsTotal         int        `gorm:"not null;default:0" json:"credits_total"`
	CreditsUsed          int        `gorm:"not null;default:0" json:"credits_used"`
	CreditsRollover      int        `gorm:"not null;default:0" json:"credits_rollover"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasStripeCustomer reports whether a payment-processor customer is linked.
func (o *Organization) HasStripeCustomer() bool {
	return o.StripeCustomerID != nil && strings.TrimSpace(*o.StripeCustomerID) != ""
}

// CustomerID returns the linked customer id or an empty string.
func (o *Organization) CustomerID() string {
	if o.StripeCustomerID == nil {
		return ""
	}
	return *o.StripeCustomerID
}

// SubscriptionID returns the linked subscription id or an empty string.
func (o *Organization) SubscriptionID() string {
	if o.StripeSubscriptionID == nil {
		return ""
	}
	return *o.StripeSubscriptionID
}

// IsValidOrganizationMode reports whether mode is one of the known operating modes.
func IsValidOrganizationMode(mode string) bool {
	switch mode {
	case OrganizationModeAgAerial, OrganizationModeResidentialPest, OrganizationModeBoth:
		return true
	default:
		return false
	}
}

// NormalizeEmail lower-cases and trims an email address for comparisons and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
