package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeGateway implements Gateway with the Stripe API.
type StripeGateway struct {
	webhookSecret string
}

// NewStripeGateway configures the Stripe client with the secret API key and
// remembers the webhook signing secret.
func NewStripeGateway(apiKey, webhookSecret string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Name:     stripe.String(name),
		Metadata: metadata,
	}
	params.Context = ctx
	c, err := customer.New(params)
	if err != nil {
		return "", gatewayError("create customer", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(in.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		Metadata:   in.Metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Metadata,
		},
	}
	if in.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(in.TrialDays)
	}
	if code := strings.TrimSpace(in.CouponCode); code != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(code)}}
	} else {
		params.AllowPromotionCodes = stripe.Bool(true)
	}
	params.Context = ctx

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, gatewayError("create checkout session", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CreateCreditCheckoutSession(ctx context.Context, in CreditCheckoutInput) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(in.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(in.Quantity),
			},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		Metadata:   in.Metadata,
	}
	params.Context = ctx

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, gatewayError("create credit checkout session", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) *SubscriptionSnapshot {
	if subscriptionID == "" {
		return nil
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		log.Warnf("[Stripe] Subscription %s lookup failed: %v", subscriptionID, err)
		return nil
	}
	return snapshotFromStripe(sub)
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*SubscriptionSnapshot, error) {
	if immediately {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err := subscription.Cancel(subscriptionID, params)
		if err != nil {
			return nil, gatewayError("cancel subscription", err)
		}
		return snapshotFromStripe(sub), nil
	}

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, gatewayError("cancel subscription at period end", err)
	}
	return snapshotFromStripe(sub), nil
}

func (g *StripeGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*SubscriptionSnapshot, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	current, err := subscription.Get(subscriptionID, getParams)
	if err != nil {
		return nil, gatewayError("load subscription", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, gatewayError("update subscription price", errors.New("subscription has no items"))
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	params.Context = ctx
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, gatewayError("update subscription price", err)
	}
	return snapshotFromStripe(sub), nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	s, err := portalsession.New(params)
	if err != nil {
		return "", gatewayError("create portal session", err)
	}
	return s.URL, nil
}

func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return normalizeStripeEvent(event, payload)
}

// normalizeStripeEvent converts a verified Stripe event into an Event. Types
// the service does not handle are returned without a typed payload.
func normalizeStripeEvent(event stripe.Event, payload []byte) (*Event, error) {
	out := &Event{
		ID:       event.ID,
		Type:     string(event.Type),
		Livemode: event.Livemode,
		Payload:  payload,
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("parse checkout session: %w", err)
		}
		out.Checkout = &CheckoutCompletion{
			SessionID:     s.ID,
			Mode:          string(s.Mode),
			PaymentStatus: string(s.PaymentStatus),
			Metadata:      s.Metadata,
		}
		if s.Customer != nil {
			out.Checkout.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			out.Checkout.SubscriptionID = s.Subscription.ID
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("parse subscription: %w", err)
		}
		out.Subscription = snapshotFromStripe(&sub)
	case EventInvoicePaid, EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("parse invoice: %w", err)
		}
		out.Invoice = &InvoiceSummary{
			ID:            inv.ID,
			BillingReason: string(inv.BillingReason),
			AmountPaid:    inv.AmountPaid,
			PeriodStart:   unixTime(inv.PeriodStart),
			PeriodEnd:     unixTime(inv.PeriodEnd),
		}
		if inv.Customer != nil {
			out.Invoice.CustomerID = inv.Customer.ID
		}
		out.Invoice.SubscriptionID = invoiceSubscriptionID(event.Data.Raw)
	}
	return out, nil
}

// invoiceSubscriptionRef covers both the current parent.subscription_details
// location and the older top-level subscription field.
type invoiceSubscriptionRef struct {
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func invoiceSubscriptionID(raw []byte) string {
	var ref invoiceSubscriptionRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ""
	}
	if ref.Parent != nil && ref.Parent.SubscriptionDetails != nil {
		if id := expandableID(ref.Parent.SubscriptionDetails.Subscription); id != "" {
			return id
		}
	}
	return expandableID(ref.Subscription)
}

// expandableID reads a Stripe field that is either an id string or an
// expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return obj.ID
}

func snapshotFromStripe(sub *stripe.Subscription) *SubscriptionSnapshot {
	if sub == nil {
		return nil
	}
	snap := &SubscriptionSnapshot{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          unixTime(sub.TrialEnd),
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			snap.PriceID = item.Price.ID
		}
		snap.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return snap
}
