package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// BillingPlanMapping maps provider price ids that are not part of the
// configured catalog (legacy or grandfathered prices) to internal plans.
type BillingPlanMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_billing_plan_mappings_ref,priority:1" json:"provider"`
	ProviderPriceID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_plan_mappings_ref,priority:2" json:"provider_price_id"`
	InternalPlan    string    `gorm:"type:varchar(50);not null;default:'starter';index" json:"internal_plan"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BillingWebhookEvent stores verified provider webhook payloads with
// deduplication metadata for idempotent processing.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_billing_webhook_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_webhook_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ClaimedAt       *time.Time `gorm:"type:timestamp;default:null" json:"claimed_at,omitempty"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ProcessingNote  string     `gorm:"type:varchar(255);default:''" json:"processing_note"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsSettled reports whether the event was processed without a hard failure.
func (e *BillingWebhookEvent) IsSettled() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}

// Credit transaction kinds.
const (
	CreditTransactionPurchase    = "purchase"
	CreditTransactionUsage       = "usage"
	CreditTransactionPeriodReset = "period_reset"
	CreditTransactionGrant       = "grant"
)

// CreditTransaction is an append-only audit row for every credit movement.
type CreditTransaction struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	OrganizationID  uint      `gorm:"not null;index" json:"organization_id"`
	UserID          uint      `gorm:"index" json:"user_id,omitempty"`
	Type            string    `gorm:"type:varchar(20);not null;index" json:"type"`
	Amount          int       `gorm:"not null" json:"amount"`
	BalanceAfter    int       `gorm:"not null" json:"balance_after"`
	Description     string    `gorm:"type:varchar(255);default:''" json:"description"`
	StripeSessionID string    `gorm:"type:varchar(191);default:'';index" json:"stripe_session_id,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
