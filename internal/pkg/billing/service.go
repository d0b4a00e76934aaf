package billing

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/ManuelReschke/SprayOps/app/repository"
	"github.com/ManuelReschke/SprayOps/internal/pkg/metrics"
	"github.com/ManuelReschke/SprayOps/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const notifyTimeout = 30 * time.Second

// Notifier delivers the owner notification for new signups.
type Notifier interface {
	NotifyOrganizationCreated(ctx context.Context, org *models.Organization, owner usercontext.UserContext) error
}

// PayloadArchiver stores verified webhook payloads outside the database.
type PayloadArchiver interface {
	ArchiveWebhookPayload(ctx context.Context, provider, eventID, eventType string, payload []byte) error
}

// Deps bundles the collaborators of the billing service. Cache, Metrics,
// Notifier and Archiver are optional.
type Deps struct {
	Organizations repository.OrganizationRepository
	Members       repository.MemberRepository
	Repository    Repository
	Gateway       Gateway
	Catalog       *Catalog
	Config        Config
	Cache         SnapshotCache
	Metrics       *metrics.Metrics
	Notifier      Notifier
	Archiver      PayloadArchiver
	Now           func() time.Time
}

// Service implements the organization billing lifecycle.
type Service struct {
	orgs     repository.OrganizationRepository
	members  repository.MemberRepository
	repo     Repository
	gateway  Gateway
	catalog  *Catalog
	cfg      Config
	cache    SnapshotCache
	metrics  *metrics.Metrics
	notifier Notifier
	archiver PayloadArchiver
	now      func() time.Time
}

// NewService creates a billing service from its dependencies.
func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	catalog := d.Catalog
	if catalog == nil {
		catalog = NewCatalog(DefaultTiers(), DefaultAddons())
	}
	return &Service{
		orgs:     d.Organizations,
		members:  d.Members,
		repo:     d.Repository,
		gateway:  d.Gateway,
		catalog:  catalog,
		cfg:      d.Config,
		cache:    d.Cache,
		metrics:  d.Metrics,
		notifier: d.Notifier,
		archiver: d.Archiver,
		now:      now,
	}
}

// Catalog returns the plan catalog the service was built with.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// CreateOrganizationInput is the signup payload.
type CreateOrganizationInput struct {
	Name           string `json:"name" validate:"required,min=2,max=150"`
	Mode           string `json:"mode" validate:"omitempty,oneof=ag_aerial residential_pest both"`
	InvitationCode string `json:"invitation_code" validate:"max=200"`
	ContactEmail   string `json:"contact_email" validate:"omitempty,email,max=200"`
	Phone          string `json:"phone" validate:"max=50"`
	AddressLine1   string `json:"address_line1" validate:"max=200"`
	AddressLine2   string `json:"address_line2" validate:"max=200"`
	City           string `json:"city" validate:"max=100"`
	State          string `json:"state" validate:"max=100"`
	PostalCode     string `json:"postal_code" validate:"max=20"`
}

// CreateOrganizationResult is returned after a successful signup.
type CreateOrganizationResult struct {
	Organization    *models.Organization `json:"organization"`
	RequiresPayment bool                 `json:"requires_payment"`
}

// SubscriptionStatus is the billing summary shown to an organization member.
type SubscriptionStatus struct {
	HasOrganization    bool                  `json:"has_organization"`
	HasSubscription    bool                  `json:"has_subscription"`
	OrganizationID     uint                  `json:"organization_id,omitempty"`
	Status             string                `json:"status,omitempty"`
	Plan               string                `json:"plan,omitempty"`
	CreditsTotal       int                   `json:"credits_total"`
	CreditsUsed        int                   `json:"credits_used"`
	CreditsRemaining   int                   `json:"credits_remaining"`
	CreditsRollover    int                   `json:"credits_rollover"`
	BillingPeriodStart *time.Time            `json:"billing_period_start,omitempty"`
	BillingPeriodEnd   *time.Time            `json:"billing_period_end,omitempty"`
	IsOwnerBypass      bool                  `json:"is_owner_bypass"`
	Subscription       *SubscriptionSnapshot `json:"subscription,omitempty"`
}

// CreditBalance is the credit state after a consumption.
type CreditBalance struct {
	OrganizationID uint `json:"organization_id"`
	Total          int  `json:"credits_total"`
	Used           int  `json:"credits_used"`
	Rollover       int  `json:"credits_rollover"`
	Remaining      int  `json:"credits_remaining"`
}

// CreateOrganization signs the user up as owner of a new organization.
func (s *Service) CreateOrganization(ctx context.Context, user usercontext.UserContext, in CreateOrganizationInput) (*CreateOrganizationResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return nil, fmt.Errorf("%w: name must not contain control characters", ErrInvalidInput)
	}
	mode := strings.TrimSpace(in.Mode)
	if mode == "" {
		mode = models.OrganizationModeAgAerial
	}
	if !models.IsValidOrganizationMode(mode) {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, mode)
	}
	ownerEmail := models.NormalizeEmail(user.Email)
	if user.UserID == 0 || ownerEmail == "" {
		return nil, fmt.Errorf("%w: authenticated user with email required", ErrInvalidInput)
	}

	if err := s.ensureNoOrganization(user.UserID, ownerEmail); err != nil {
		return nil, err
	}

	if !user.IsOwnerBypass && !s.invitationCodeMatches(in.InvitationCode) {
		return nil, ErrInvalidInvitationCode
	}

	org := &models.Organization{
		Name:         name,
		OwnerUserID:  user.UserID,
		OwnerEmail:   ownerEmail,
		Mode:         mode,
		ContactEmail: strings.TrimSpace(in.ContactEmail),
		Phone:        strings.TrimSpace(in.Phone),
		AddressLine1: strings.TrimSpace(in.AddressLine1),
		AddressLine2: strings.TrimSpace(in.AddressLine2),
		City:         strings.TrimSpace(in.City),
		State:        strings.TrimSpace(in.State),
		PostalCode:   strings.TrimSpace(in.PostalCode),
	}

	if user.IsOwnerBypass {
		s.applyOwnerDefaults(org)
		if err := s.insertOrganization(org, user.UserID, ""); err != nil {
			return nil, err
		}
		s.afterOwnerProvisioned(org, user.UserID)
		return &CreateOrganizationResult{Organization: org, RequiresPayment: false}, nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx, ownerEmail, name, map[string]string{
		metadataUserID: strconv.FormatUint(uint64(user.UserID), 10),
	})
	if err != nil {
		return nil, err
	}

	start, end := periodFrom(s.now())
	org.StripeCustomerID = &customerID
	org.Plan = models.PlanStarter
	org.SubscriptionStatus = models.SubscriptionStatusIncomplete
	org.BillingPeriodStart = &start
	org.BillingPeriodEnd = &end

	if err := s.insertOrganization(org, user.UserID, customerID); err != nil {
		return nil, err
	}

	log.Infof("[Billing] Organization %d created for user %d (customer %s)", org.ID, user.UserID, customerID)
	s.metrics.OrganizationCreated("standard")
	s.notifyCreated(org, user)

	return &CreateOrganizationResult{Organization: org, RequiresPayment: true}, nil
}

func (s *Service) ensureNoOrganization(userID uint, ownerEmail string) error {
	if _, err := s.members.GetByUserID(userID); err == nil {
		return ErrOrganizationExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup membership: %w", err)
	}

	if _, err := s.orgs.GetByOwnerEmail(ownerEmail); err == nil {
		return ErrOrganizationExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup organization by owner email: %w", err)
	}
	return nil
}

func (s *Service) invitationCodeMatches(code string) bool {
	expected := strings.TrimSpace(s.cfg.InvitationCode)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(expected)) == 1
}

func (s *Service) applyOwnerDefaults(org *models.Organization) {
	start, end := periodFrom(s.now())
	org.StripeCustomerID = nil
	org.Plan = models.PlanEnterprise
	org.SubscriptionStatus = models.SubscriptionStatusActive
	org.CreditsTotal = s.cfg.ownerCredits()
	org.BillingPeriodStart = &start
	org.BillingPeriodEnd = &end
}

// insertOrganization stores the organization with its owner membership. A
// customer created beforehand is reported in the log when the insert fails.
func (s *Service) insertOrganization(org *models.Organization, userID uint, customerID string) error {
	owner := &models.OrganizationMember{UserID: userID, Role: models.MemberRoleOwner}
	err := s.orgs.CreateWithOwner(org, owner)
	if err == nil {
		return nil
	}
	if customerID != "" {
		log.Errorf("[Billing] Organization insert for user %d failed, payment customer %s is orphaned: %v", userID, customerID, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOrganizationExists
	}
	return fmt.Errorf("create organization: %w", err)
}

func (s *Service) afterOwnerProvisioned(org *models.Organization, userID uint) {
	log.Infof("[Billing] Owner organization %d provisioned for user %d", org.ID, userID)
	s.metrics.OrganizationCreated("owner")
	s.recordTransaction(&models.CreditTransaction{
		OrganizationID: org.ID,
		UserID:         userID,
		Type:           models.CreditTransactionGrant,
		Amount:         org.CreditsTotal,
		BalanceAfter:   RemainingCredits(org),
		Description:    "owner allotment",
	})
}

func (s *Service) notifyCreated(org *models.Organization, user usercontext.UserContext) {
	if s.notifier == nil {
		return
	}
	snapshot := *org
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyOrganizationCreated(ctx, &snapshot, user); err != nil {
			log.Warnf("[Billing] Owner notification for organization %d failed: %v", snapshot.ID, err)
		}
	}()
}

// memberOrganization resolves the caller's membership and organization.
func (s *Service) memberOrganization(userID uint) (*models.OrganizationMember, *models.Organization, error) {
	member, err := s.members.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNoOrganization
		}
		return nil, nil, fmt.Errorf("lookup membership: %w", err)
	}
	org, err := s.orgs.GetByID(member.OrganizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNoOrganization
		}
		return nil, nil, fmt.Errorf("load organization: %w", err)
	}
	return member, org, nil
}

func (s *Service) billingOrganization(userID uint) (*models.Organization, error) {
	member, org, err := s.memberOrganization(userID)
	if err != nil {
		return nil, err
	}
	if !member.CanManageBilling() {
		return nil, ErrForbidden
	}
	return org, nil
}

func orgMetadata(org *models.Organization, userID uint) map[string]string {
	return map[string]string{
		metadataOrganizationID: strconv.FormatUint(uint64(org.ID), 10),
		metadataUserID:         strconv.FormatUint(uint64(userID), 10),
	}
}

// CreateCheckout starts a subscription checkout for planID.
func (s *Service) CreateCheckout(ctx context.Context, user usercontext.UserContext, planID, couponCode string) (*CheckoutSession, error) {
	org, err := s.billingOrganization(user.UserID)
	if err != nil {
		return nil, err
	}
	if org.SubscriptionStatus == models.SubscriptionStatusActive {
		return nil, ErrAlreadyActive
	}
	if !org.HasStripeCustomer() {
		return nil, ErrNoCustomer
	}
	tier, ok := s.catalog.Tier(planID)
	if !ok || tier.PriceID == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}

	meta := orgMetadata(org, user.UserID)
	meta[metadataPlanID] = tier.ID

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutSessionInput{
		CustomerID: org.CustomerID(),
		PriceID:    tier.PriceID,
		SuccessURL: s.cfg.CheckoutSuccessURL,
		CancelURL:  s.cfg.CheckoutCancelURL,
		Metadata:   meta,
		TrialDays:  s.cfg.TrialDays,
		CouponCode: couponCode,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CheckoutStarted(CheckoutModeSubscription, tier.ID)
	return session, nil
}

// PurchaseCredits starts a one-time checkout for quantity credit packs. The
// credits are granted when the payment webhook arrives.
func (s *Service) PurchaseCredits(ctx context.Context, user usercontext.UserContext, addonID string, quantity int) (*CheckoutSession, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	org, err := s.billingOrganization(user.UserID)
	if err != nil {
		return nil, err
	}
	if !org.HasStripeCustomer() {
		return nil, ErrNoCustomer
	}
	addon, ok := s.catalog.Addon(addonID)
	if !ok || addon.PriceID == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAddon, addonID)
	}

	meta := orgMetadata(org, user.UserID)
	meta[metadataAddonID] = addon.ID
	meta[metadataCredits] = strconv.Itoa(addon.Credits * quantity)

	session, err := s.gateway.CreateCreditCheckoutSession(ctx, CreditCheckoutInput{
		CustomerID: org.CustomerID(),
		PriceID:    addon.PriceID,
		Quantity:   int64(quantity),
		SuccessURL: s.cfg.CheckoutSuccessURL,
		CancelURL:  s.cfg.CheckoutCancelURL,
		Metadata:   meta,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CheckoutStarted(CheckoutModePayment, addon.ID)
	return session, nil
}

// GetSubscriptionStatus reports the caller's billing state. The owner gets an
// organization provisioned on first call.
func (s *Service) GetSubscriptionStatus(ctx context.Context, user usercontext.UserContext) (*SubscriptionStatus, error) {
	_, org, err := s.memberOrganization(user.UserID)
	if errors.Is(err, ErrNoOrganization) {
		if !user.IsOwnerBypass {
			return &SubscriptionStatus{HasOrganization: false}, nil
		}
		org, err = s.provisionOwnerOrganization(user)
	}
	if err != nil {
		return nil, err
	}

	if user.IsOwnerBypass {
		total := s.cfg.ownerCredits()
		view := *org
		view.CreditsTotal = total
		return &SubscriptionStatus{
			HasOrganization:    true,
			HasSubscription:    true,
			OrganizationID:     org.ID,
			Status:             models.SubscriptionStatusActive,
			Plan:               models.PlanEnterprise,
			CreditsTotal:       total,
			CreditsUsed:        org.CreditsUsed,
			CreditsRemaining:   RemainingCredits(&view),
			CreditsRollover:    org.CreditsRollover,
			BillingPeriodStart: org.BillingPeriodStart,
			BillingPeriodEnd:   org.BillingPeriodEnd,
			IsOwnerBypass:      true,
		}, nil
	}

	status := &SubscriptionStatus{
		HasOrganization:    true,
		HasSubscription:    org.SubscriptionID() != "" || isEntitlingStatus(org.SubscriptionStatus),
		OrganizationID:     org.ID,
		Status:             org.SubscriptionStatus,
		Plan:               org.Plan,
		CreditsTotal:       org.CreditsTotal,
		CreditsUsed:        org.CreditsUsed,
		CreditsRemaining:   RemainingCredits(org),
		CreditsRollover:    org.CreditsRollover,
		BillingPeriodStart: org.BillingPeriodStart,
		BillingPeriodEnd:   org.BillingPeriodEnd,
	}
	if subID := org.SubscriptionID(); subID != "" {
		status.Subscription = s.liveSnapshot(ctx, subID)
	}
	return status, nil
}

func (s *Service) provisionOwnerOrganization(user usercontext.UserContext) (*models.Organization, error) {
	name := strings.TrimSpace(user.Username)
	if name == "" {
		name = "Owner organization"
	}
	org := &models.Organization{
		Name:        name,
		OwnerUserID: user.UserID,
		OwnerEmail:  models.NormalizeEmail(user.Email),
		Mode:        models.OrganizationModeBoth,
	}
	s.applyOwnerDefaults(org)
	if err := s.insertOrganization(org, user.UserID, ""); err != nil {
		if errors.Is(err, ErrOrganizationExists) {
			// A concurrent request won the insert.
			_, existing, lookupErr := s.memberOrganization(user.UserID)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	s.afterOwnerProvisioned(org, user.UserID)
	return org, nil
}

func (s *Service) liveSnapshot(ctx context.Context, subscriptionID string) *SubscriptionSnapshot {
	if s.cache != nil {
		if snap, ok := s.cache.Get(ctx, subscriptionID); ok {
			return snap
		}
	}
	snap := s.gateway.GetSubscription(ctx, subscriptionID)
	if snap != nil && s.cache != nil {
		s.cache.Set(ctx, snap)
	}
	return snap
}

func (s *Service) invalidateSnapshot(ctx context.Context, subscriptionID string) {
	if s.cache != nil && subscriptionID != "" {
		s.cache.Invalidate(ctx, subscriptionID)
	}
}

// GetPortalURL returns a self-service billing portal URL.
func (s *Service) GetPortalURL(ctx context.Context, user usercontext.UserContext) (string, error) {
	org, err := s.billingOrganization(user.UserID)
	if err != nil {
		return "", err
	}
	if !org.HasStripeCustomer() {
		return "", ErrNoCustomer
	}
	return s.gateway.CreatePortalSession(ctx, org.CustomerID(), s.cfg.PortalReturnURL)
}

// CancelSubscription cancels the organization's subscription, either now or
// at the end of the current period.
func (s *Service) CancelSubscription(ctx context.Context, user usercontext.UserContext, immediately bool) (*SubscriptionSnapshot, error) {
	org, err := s.billingOrganization(user.UserID)
	if err != nil {
		return nil, err
	}
	subID := org.SubscriptionID()
	if subID == "" || org.SubscriptionStatus == models.SubscriptionStatusCanceled {
		return nil, ErrNoSubscription
	}

	snap, err := s.gateway.CancelSubscription(ctx, subID, immediately)
	if err != nil {
		return nil, err
	}
	if immediately {
		if err := s.orgs.UpdateFields(org.ID, map[string]interface{}{
			"subscription_status": models.SubscriptionStatusCanceled,
		}); err != nil {
			return nil, fmt.Errorf("update organization: %w", err)
		}
	}
	s.invalidateSnapshot(ctx, subID)
	log.Infof("[Billing] Subscription %s of organization %d canceled (immediately=%t)", subID, org.ID, immediately)
	return snap, nil
}

// ChangePlan moves an existing subscription to another tier. The new monthly
// allotment applies to the current period.
func (s *Service) ChangePlan(ctx context.Context, user usercontext.UserContext, planID string) (*models.Organization, error) {
	org, err := s.billingOrganization(user.UserID)
	if err != nil {
		return nil, err
	}
	tier, ok := s.catalog.Tier(planID)
	if !ok || tier.PriceID == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}
	subID := org.SubscriptionID()
	if subID == "" || !isEntitlingStatus(org.SubscriptionStatus) {
		return nil, ErrNoSubscription
	}
	if org.Plan == tier.ID {
		return nil, fmt.Errorf("%w: organization is already on plan %q", ErrInvalidInput, tier.ID)
	}

	if _, err := s.gateway.UpdateSubscriptionPrice(ctx, subID, tier.PriceID); err != nil {
		return nil, err
	}
	if err := s.orgs.UpdateFields(org.ID, map[string]interface{}{
		"plan":          tier.ID,
		"credits_total": tier.MonthlyCredits,
	}); err != nil {
		return nil, fmt.Errorf("update organization: %w", err)
	}
	s.invalidateSnapshot(ctx, subID)
	log.Infof("[Billing] Organization %d changed plan %s -> %s", org.ID, org.Plan, tier.ID)
	return s.orgs.GetByID(org.ID)
}

// ConsumeCredits charges amount credits to the caller's organization. The
// request is rejected when the balance does not cover it, except for the
// owner organization.
func (s *Service) ConsumeCredits(ctx context.Context, user usercontext.UserContext, amount int, description string) (*CreditBalance, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	member, org, err := s.memberOrganization(user.UserID)
	if err != nil {
		return nil, err
	}
	if member.Role == models.MemberRoleViewer {
		return nil, ErrForbidden
	}
	ok, err := s.orgs.ConsumeCredits(org.ID, amount, !user.IsOwnerBypass)
	if err != nil {
		return nil, fmt.Errorf("consume credits: %w", err)
	}
	if !ok {
		s.metrics.Rejected()
		return nil, ErrInsufficientCredits
	}

	updated, err := s.orgs.GetByID(org.ID)
	if err != nil {
		return nil, fmt.Errorf("reload organization: %w", err)
	}
	balance := &CreditBalance{
		OrganizationID: updated.ID,
		Total:          updated.CreditsTotal,
		Used:           updated.CreditsUsed,
		Rollover:       updated.CreditsRollover,
		Remaining:      RemainingCredits(updated),
	}
	s.metrics.Consumed(amount)
	s.recordTransaction(&models.CreditTransaction{
		OrganizationID: org.ID,
		UserID:         user.UserID,
		Type:           models.CreditTransactionUsage,
		Amount:         -amount,
		BalanceAfter:   balance.Remaining,
		Description:    truncate(strings.TrimSpace(description), 255),
	})
	return balance, nil
}

// ListCreditTransactions returns the newest credit movements of the caller's
// organization.
func (s *Service) ListCreditTransactions(ctx context.Context, user usercontext.UserContext, limit int) ([]models.CreditTransaction, error) {
	_, org, err := s.memberOrganization(user.UserID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListCreditTransactions(org.ID, limit)
}

// PruneWebhookEvents removes settled webhook events created before cutoff.
func (s *Service) PruneWebhookEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.PruneWebhookEvents(cutoff)
}

func (s *Service) recordTransaction(t *models.CreditTransaction) {
	if s.repo == nil {
		return
	}
	if err := s.repo.RecordCreditTransaction(t); err != nil {
		log.Warnf("[Billing] Credit transaction for organization %d not recorded: %v", t.OrganizationID, err)
	}
}

// truncate keeps at most max runes of s.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
