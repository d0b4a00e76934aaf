package billing

import (
	"context"
	"strings"
	"time"
)

// Processor event types handled by the webhook pipeline.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaid           = "invoice.paid"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	CheckoutModeSubscription   = "subscription"
	CheckoutModePayment        = "payment"
	metadataOrganizationID     = "organization_id"
	metadataUserID             = "user_id"
	metadataPlanID             = "plan_id"
	metadataAddonID            = "addon_id"
	metadataCredits            = "credits"
	testEventID                = "evt_00000000000000"
	testEventPrefix            = "evt_test_webhook"
	unknownPriceProcessingNote = "unknown price id"
)

// Gateway is the narrow view of the payment processor used by the service.
type Gateway interface {
	// CreateCustomer is not idempotent; callers check for an existing
	// customer first.
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
	CreateCreditCheckoutSession(ctx context.Context, in CreditCheckoutInput) (*CheckoutSession, error)
	// GetSubscription returns nil when the processor has no record or the
	// lookup fails.
	GetSubscription(ctx context.Context, subscriptionID string) *SubscriptionSnapshot
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*SubscriptionSnapshot, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*SubscriptionSnapshot, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// ConstructEvent verifies the signature and normalizes the payload. A
	// signature mismatch wraps ErrInvalidSignature.
	ConstructEvent(payload []byte, signature string) (*Event, error)
}

// CheckoutSessionInput describes a subscription-mode checkout.
type CheckoutSessionInput struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	TrialDays  int64
	CouponCode string
}

// CreditCheckoutInput describes a one-time payment checkout for credit packs.
type CreditCheckoutInput struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession is a hosted checkout the client is redirected to.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// SubscriptionSnapshot is the processor's view of a subscription.
type SubscriptionSnapshot struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	Status             string     `json:"status"`
	PriceID            string     `json:"price_id"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
}

// CheckoutCompletion carries the fields of a completed checkout session.
type CheckoutCompletion struct {
	SessionID      string
	Mode           string
	CustomerID     string
	SubscriptionID string
	PaymentStatus  string
	Metadata       map[string]string
}

// InvoiceSummary carries the fields of a paid or failed invoice.
type InvoiceSummary struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	BillingReason  string
	AmountPaid     int64
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

// Event is a verified, provider-neutral webhook event. Exactly one of the
// typed payloads is set for handled event types.
type Event struct {
	ID           string
	Type         string
	Livemode     bool
	Payload      []byte
	Checkout     *CheckoutCompletion
	Subscription *SubscriptionSnapshot
	Invoice      *InvoiceSummary
}

// IsTestEvent reports whether the event is a synthetic endpoint check sent
// by the processor dashboard.
func (e *Event) IsTestEvent() bool {
	return e.ID == testEventID || strings.HasPrefix(e.ID, testEventPrefix)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
