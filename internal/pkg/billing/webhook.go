package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const archiveTimeout = 30 * time.Second

// webhookLeaseTimeout bounds how long a claimed event blocks redeliveries
// when the process handling it died before marking it.
const webhookLeaseTimeout = 5 * time.Minute

// Webhook outcomes, also used as metric labels.
const (
	webhookOutcomeProcessed        = "processed"
	webhookOutcomeIgnored          = "ignored"
	webhookOutcomeDuplicate        = "duplicate"
	webhookOutcomeTest             = "test"
	webhookOutcomeFailed           = "failed"
	webhookOutcomeInvalidSignature = "invalid_signature"
)

// WebhookResult describes how an event was handled.
type WebhookResult struct {
	EventID   string `json:"event_id,omitempty"`
	Type      string `json:"type,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Test      bool   `json:"test,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Note      string `json:"note,omitempty"`
}

// HandleWebhook verifies, de-duplicates and applies a processor event. A
// non-nil error for a verified event means the processor should retry.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ev, err := s.gateway.ConstructEvent(payload, signature)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			s.metrics.Webhook("unknown", webhookOutcomeInvalidSignature)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	result := &WebhookResult{EventID: ev.ID, Type: ev.Type}
	if ev.IsTestEvent() {
		result.Test = true
		s.metrics.Webhook(ev.Type, webhookOutcomeTest)
		return result, nil
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		s.metrics.Webhook(ev.Type, webhookOutcomeFailed)
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.IsSettled() {
		result.Duplicate = true
		s.metrics.Webhook(ev.Type, webhookOutcomeDuplicate)
		log.Infof("[Webhook] Event %s (%s) already processed", ev.ID, ev.Type)
		return result, nil
	}

	now := s.now()
	claimed, err := s.repo.ClaimWebhookEvent(stored.ID, now, now.Add(-webhookLeaseTimeout))
	if err != nil {
		s.metrics.Webhook(ev.Type, webhookOutcomeFailed)
		return nil, fmt.Errorf("claim webhook event: %w", err)
	}
	if !claimed {
		result.Duplicate = true
		s.metrics.Webhook(ev.Type, webhookOutcomeDuplicate)
		log.Infof("[Webhook] Event %s (%s) is being processed by another delivery", ev.ID, ev.Type)
		return result, nil
	}

	note, ignored, handleErr := s.dispatch(ctx, ev)
	result.Note = note
	result.Ignored = ignored

	errText := ""
	if handleErr != nil {
		errText = handleErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(stored.ID, note, errText); err != nil {
		log.Errorf("[Webhook] Failed to mark event %s processed: %v", ev.ID, err)
	}

	s.archive(ev)

	switch {
	case handleErr != nil:
		s.metrics.Webhook(ev.Type, webhookOutcomeFailed)
		log.Errorf("[Webhook] Event %s (%s) failed: %v", ev.ID, ev.Type, handleErr)
		return nil, handleErr
	case ignored:
		s.metrics.Webhook(ev.Type, webhookOutcomeIgnored)
		log.Infof("[Webhook] Event %s (%s) acknowledged without effect: %s", ev.ID, ev.Type, note)
	default:
		s.metrics.Webhook(ev.Type, webhookOutcomeProcessed)
		if note != "" {
			log.Warnf("[Webhook] Event %s (%s) processed with note: %s", ev.ID, ev.Type, note)
		}
	}
	return result, nil
}

func (s *Service) archive(ev *Event) {
	if s.archiver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.archiver.ArchiveWebhookPayload(ctx, models.BillingProviderStripe, ev.ID, ev.Type, ev.Payload); err != nil {
			log.Warnf("[Webhook] Archiving event %s failed: %v", ev.ID, err)
		}
	}()
}

// dispatch applies the event. It returns a processing note, whether the event
// had no effect, and an error for failures the processor should retry.
func (s *Service) dispatch(ctx context.Context, ev *Event) (string, bool, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.Checkout == nil {
			return "missing checkout payload", true, nil
		}
		switch ev.Checkout.Mode {
		case CheckoutModeSubscription:
			return s.onSubscriptionCheckout(ctx, ev.Checkout)
		case CheckoutModePayment:
			return s.onCreditCheckout(ev.Checkout)
		default:
			return "unhandled checkout mode " + ev.Checkout.Mode, true, nil
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if ev.Subscription == nil {
			return "missing subscription payload", true, nil
		}
		return s.onSubscriptionChanged(ctx, ev.Subscription)
	case EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return "missing subscription payload", true, nil
		}
		return s.onSubscriptionDeleted(ctx, ev.Subscription)
	case EventInvoicePaid:
		if ev.Invoice == nil {
			return "missing invoice payload", true, nil
		}
		return s.onInvoicePaid(ctx, ev.Invoice)
	case EventInvoicePaymentFailed:
		if ev.Invoice == nil {
			return "missing invoice payload", true, nil
		}
		return s.onInvoicePaymentFailed(ctx, ev.Invoice)
	default:
		return "unhandled event type", true, nil
	}
}

func (s *Service) onSubscriptionCheckout(ctx context.Context, c *CheckoutCompletion) (string, bool, error) {
	org, note, err := s.organizationFromMetadata(c)
	if org == nil {
		return note, true, err
	}

	plan := c.Metadata[metadataPlanID]
	if !isKnownPlan(plan) {
		note = fmt.Sprintf("unknown plan %q in metadata, kept %s", plan, org.Plan)
		plan = org.Plan
	}
	start, end := periodFrom(s.now())
	org.SubscriptionStatus = models.SubscriptionStatusActive
	org.Plan = plan
	ResetForNewPeriod(org, s.catalog.CreditsForPlan(plan), start, end)

	fields := periodResetFields(org)
	fields["subscription_status"] = org.SubscriptionStatus
	fields["plan"] = org.Plan
	if c.SubscriptionID != "" {
		fields["stripe_subscription_id"] = c.SubscriptionID
	}
	if err := s.orgs.UpdateFields(org.ID, fields); err != nil {
		return "", false, fmt.Errorf("activate organization %d: %w", org.ID, err)
	}

	s.invalidateSnapshot(ctx, c.SubscriptionID)
	s.metrics.Granted(models.CreditTransactionPeriodReset, org.CreditsTotal)
	s.recordTransaction(&models.CreditTransaction{
		OrganizationID:  org.ID,
		Type:            models.CreditTransactionPeriodReset,
		Amount:          org.CreditsTotal,
		BalanceAfter:    RemainingCredits(org),
		Description:     "subscription started: " + plan,
		StripeSessionID: c.SessionID,
	})
	log.Infof("[Webhook] Organization %d activated on plan %s", org.ID, plan)
	return note, false, nil
}

func (s *Service) onCreditCheckout(c *CheckoutCompletion) (string, bool, error) {
	credits, err := strconv.Atoi(strings.TrimSpace(c.Metadata[metadataCredits]))
	if err != nil || credits <= 0 {
		return "no credit amount in metadata", true, nil
	}
	if c.PaymentStatus == "unpaid" {
		return "checkout not paid", true, nil
	}

	org, note, err := s.organizationFromMetadata(c)
	if org == nil {
		return note, true, err
	}
	if err := s.orgs.AddRolloverCredits(org.ID, credits); err != nil {
		return "", false, fmt.Errorf("add rollover credits to organization %d: %w", org.ID, err)
	}
	AddRollover(org, credits)

	s.metrics.Granted(models.CreditTransactionPurchase, credits)
	s.recordTransaction(&models.CreditTransaction{
		OrganizationID:  org.ID,
		UserID:          parseUint(c.Metadata[metadataUserID]),
		Type:            models.CreditTransactionPurchase,
		Amount:          credits,
		BalanceAfter:    RemainingCredits(org),
		Description:     "credit pack " + c.Metadata[metadataAddonID],
		StripeSessionID: c.SessionID,
	})
	log.Infof("[Webhook] Organization %d purchased %d credits", org.ID, credits)
	return "", false, nil
}

func (s *Service) onSubscriptionChanged(ctx context.Context, snap *SubscriptionSnapshot) (string, bool, error) {
	org, note, err := s.organizationByCustomer(snap.CustomerID)
	if org == nil {
		return note, true, err
	}

	fields := map[string]interface{}{}
	if snap.ID != "" {
		fields["stripe_subscription_id"] = snap.ID
	}
	if status, ok := normalizeStatus(snap.Status); ok {
		fields["subscription_status"] = status
	}

	plan, err := s.planForPrice(snap.PriceID)
	switch {
	case err == nil:
		fields["plan"] = plan
	case errors.Is(err, ErrUnknownPrice):
		note = unknownPriceProcessingNote
	default:
		return "", false, err
	}

	if err := s.orgs.UpdateFields(org.ID, fields); err != nil {
		return "", false, fmt.Errorf("update organization %d: %w", org.ID, err)
	}
	s.invalidateSnapshot(ctx, snap.ID)
	return note, false, nil
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, snap *SubscriptionSnapshot) (string, bool, error) {
	org, note, err := s.organizationByCustomer(snap.CustomerID)
	if org == nil {
		return note, true, err
	}
	if err := s.orgs.UpdateFields(org.ID, map[string]interface{}{
		"subscription_status": models.SubscriptionStatusCanceled,
	}); err != nil {
		return "", false, fmt.Errorf("cancel organization %d: %w", org.ID, err)
	}
	s.invalidateSnapshot(ctx, snap.ID)
	log.Infof("[Webhook] Subscription of organization %d canceled", org.ID)
	return "", false, nil
}

func (s *Service) onInvoicePaid(ctx context.Context, inv *InvoiceSummary) (string, bool, error) {
	if inv.SubscriptionID == "" {
		return "invoice is not tied to a subscription", true, nil
	}
	org, note, err := s.organizationByCustomer(inv.CustomerID)
	if org == nil {
		return note, true, err
	}

	start, end := periodFrom(s.now())
	ResetForNewPeriod(org, s.catalog.CreditsForPlan(org.Plan), start, end)
	if err := s.orgs.UpdateFields(org.ID, periodResetFields(org)); err != nil {
		return "", false, fmt.Errorf("reset credits of organization %d: %w", org.ID, err)
	}

	s.invalidateSnapshot(ctx, inv.SubscriptionID)
	s.metrics.Granted(models.CreditTransactionPeriodReset, org.CreditsTotal)
	s.recordTransaction(&models.CreditTransaction{
		OrganizationID: org.ID,
		Type:           models.CreditTransactionPeriodReset,
		Amount:         org.CreditsTotal,
		BalanceAfter:   RemainingCredits(org),
		Description:    "period renewal: invoice " + inv.ID,
	})
	log.Infof("[Webhook] Organization %d credits reset to %d", org.ID, org.CreditsTotal)
	return "", false, nil
}

func (s *Service) onInvoicePaymentFailed(ctx context.Context, inv *InvoiceSummary) (string, bool, error) {
	org, note, err := s.organizationByCustomer(inv.CustomerID)
	if org == nil {
		return note, true, err
	}
	if err := s.orgs.UpdateFields(org.ID, map[string]interface{}{
		"subscription_status": models.SubscriptionStatusPastDue,
	}); err != nil {
		return "", false, fmt.Errorf("mark organization %d past due: %w", org.ID, err)
	}
	s.invalidateSnapshot(ctx, inv.SubscriptionID)
	log.Warnf("[Webhook] Payment failed for organization %d", org.ID)
	return "", false, nil
}

// organizationFromMetadata resolves the checkout's organization from the
// metadata id, falling back to the customer id. A nil organization with a
// nil error means the event cannot be correlated.
func (s *Service) organizationFromMetadata(c *CheckoutCompletion) (*models.Organization, string, error) {
	if id := parseUint(c.Metadata[metadataOrganizationID]); id != 0 {
		org, err := s.orgs.GetByID(id)
		if err == nil {
			return org, "", nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", fmt.Errorf("load organization %d: %w", id, err)
		}
		return nil, fmt.Sprintf("organization %d not found", id), nil
	}
	if c.CustomerID != "" {
		return s.organizationByCustomer(c.CustomerID)
	}
	return nil, "missing organization_id metadata", nil
}

func (s *Service) organizationByCustomer(customerID string) (*models.Organization, string, error) {
	if customerID == "" {
		return nil, "event has no customer id", nil
	}
	org, err := s.orgs.GetByStripeCustomerID(customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "no organization for customer " + customerID, nil
		}
		return nil, "", fmt.Errorf("lookup organization by customer: %w", err)
	}
	return org, "", nil
}

// planForPrice resolves a price id via the catalog first and the plan
// mapping table second.
func (s *Service) planForPrice(priceID string) (string, error) {
	if priceID == "" {
		return "", ErrUnknownPrice
	}
	if plan, ok := s.catalog.PlanForPrice(priceID); ok {
		return plan, nil
	}
	m, err := s.repo.FindActivePlanMapping(models.BillingProviderStripe, priceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownPrice, priceID)
		}
		return "", fmt.Errorf("lookup plan mapping: %w", err)
	}
	if !isKnownPlan(m.InternalPlan) {
		return "", fmt.Errorf("%w: %s maps to %q", ErrUnknownPrice, priceID, m.InternalPlan)
	}
	return m.InternalPlan, nil
}

func parseUint(s string) uint {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
