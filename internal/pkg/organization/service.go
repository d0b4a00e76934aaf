package organization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/ManuelReschke/SprayOps/app/repository"
	"github.com/ManuelReschke/SprayOps/internal/pkg/metrics"
	"github.com/ManuelReschke/SprayOps/internal/pkg/usercontext"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const mailTimeout = 30 * time.Second

var validate = validator.New()

// InvitationMailer delivers invitation links.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, inv *models.OrganizationInvitation, org *models.Organization, inviter usercontext.UserContext) error
}

// Deps bundles the collaborators of the service. Mailer and Metrics are
// optional.
type Deps struct {
	Organizations repository.OrganizationRepository
	Members       repository.MemberRepository
	Invitations   repository.InvitationRepository
	Users         repository.UserRepository
	Mailer        InvitationMailer
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// Service manages memberships and invitations of an organization.
type Service struct {
	orgs        repository.OrganizationRepository
	members     repository.MemberRepository
	invitations repository.InvitationRepository
	users       repository.UserRepository
	mailer      InvitationMailer
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		orgs:        d.Organizations,
		members:     d.Members,
		invitations: d.Invitations,
		users:       d.Users,
		mailer:      d.Mailer,
		metrics:     d.Metrics,
		now:         now,
	}
}

// InviteInput is the payload of an invitation request.
type InviteInput struct {
	Email string `json:"email" validate:"required,email,max=200"`
	Role  string `json:"role" validate:"omitempty,oneof=admin member viewer"`
}

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

func (s *Service) inviterOrganization(userID uint) (*models.Organization, error) {
	member, org, err := s.memberOrganization(userID)
	if err != nil {
		return nil, err
	}
	if !member.CanInvite() {
		return nil, ErrForbidden
	}
	return org, nil
}

// InviteMember creates a pending invitation and mails the redemption link.
func (s *Service) InviteMember(ctx context.Context, user usercontext.UserContext, in InviteInput) (*models.OrganizationInvitation, error) {
	org, err := s.inviterOrganization(user.UserID)
	if err != nil {
		return nil, err
	}

	email := models.NormalizeEmail(in.Email)
	if err := validate.Var(email, "required,email,max=200"); err != nil {
		return nil, ErrInvalidEmail
	}
	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = models.MemberRoleMember
	}
	if !models.IsValidInviteRole(role) {
		return nil, ErrInvalidRole
	}

	if err := s.ensureNotMember(org.ID, email); err != nil {
		return nil, err
	}

	now := s.now()
	existing, err := s.invitations.FindPendingByOrganizationAndEmail(org.ID, email)
	switch {
	case err == nil && !existing.IsExpiredAt(now):
		return nil, ErrInvitationPending
	case err == nil:
		existing.Status = models.InvitationStatusExpired
		if err := s.invitations.Update(existing); err != nil {
			return nil, fmt.Errorf("expire invitation %d: %w", existing.ID, err)
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("lookup pending invitation: %w", err)
	}

	inv := &models.OrganizationInvitation{
		OrganizationID:  org.ID,
		Email:           email,
		Role:            role,
		InvitedByUserID: user.UserID,
		Token:           uuid.NewString(),
		Status:          models.InvitationStatusPending,
		ExpiresAt:       now.Add(models.InvitationTTL),
	}
	if err := s.invitations.Create(inv); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	log.Infof("[Organization] User %d invited %s to organization %d as %s", user.UserID, email, org.ID, role)
	s.sendInvitation(inv, org, user)
	return inv, nil
}

func (s *Service) ensureNotMember(orgID uint, email string) error {
	if s.users == nil {
		return nil
	}
	u, err := s.users.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if _, err := s.members.GetByOrganizationAndUser(orgID, u.ID); err == nil {
		return ErrAlreadyMember
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup membership: %w", err)
	}
	return nil
}

func (s *Service) sendInvitation(inv *models.OrganizationInvitation, org *models.Organization, inviter usercontext.UserContext) {
	if s.mailer == nil {
		return
	}
	invCopy, orgCopy := *inv, *org
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()
		if err := s.mailer.SendInvitation(ctx, &invCopy, &orgCopy, inviter); err != nil {
			log.Warnf("[Organization] Invitation mail to %s failed: %v", invCopy.Email, err)
		}
	}()
}

// ListInvitations returns the open invitations of the caller's organization.
// Invitations past their expiry are left out.
func (s *Service) ListInvitations(ctx context.Context, user usercontext.UserContext) ([]models.OrganizationInvitation, error) {
	org, err := s.inviterOrganization(user.UserID)
	if err != nil {
		return nil, err
	}
	invs, err := s.invitations.ListPendingByOrganization(org.ID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	now := s.now()
	out := make([]models.OrganizationInvitation, 0, len(invs))
	for _, inv := range invs {
		if !inv.IsExpiredAt(now) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// RevokeInvitation withdraws a pending invitation of the caller's organization.
func (s *Service) RevokeInvitation(ctx context.Context, user usercontext.UserContext, invitationID uint) error {
	org, err := s.inviterOrganization(user.UserID)
	if err != nil {
		return err
	}
	inv, err := s.invitations.GetByID(invitationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		return fmt.Errorf("load invitation: %w", err)
	}
	if inv.OrganizationID != org.ID {
		return ErrInvitationNotFound
	}
	if !inv.IsPending() {
		return ErrInvitationNotPending
	}
	inv.Status = models.InvitationStatusExpired
	if err := s.invitations.Update(inv); err != nil {
		return fmt.Errorf("revoke invitation: %w", err)
	}
	log.Infof("[Organization] Invitation %d revoked by user %d", inv.ID, user.UserID)
	return nil
}

// redeemable loads a pending, unexpired invitation addressed to user.
func (s *Service) redeemable(user usercontext.UserContext, token string) (*models.OrganizationInvitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}
	inv, err := s.invitations.GetByToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("load invitation: %w", err)
	}
	if inv.Email != models.NormalizeEmail(user.Email) {
		return nil, ErrInvitationEmailMismatch
	}
	switch inv.Status {
	case models.InvitationStatusPending:
	case models.InvitationStatusExpired:
		return nil, ErrInvitationExpired
	default:
		return nil, ErrInvitationNotPending
	}
	if inv.IsExpiredAt(s.now()) {
		inv.Status = models.InvitationStatusExpired
		if err := s.invitations.Update(inv); err != nil {
			log.Warnf("[Organization] Could not mark invitation %d expired: %v", inv.ID, err)
		}
		return nil, ErrInvitationExpired
	}
	return inv, nil
}

// AcceptInvitation joins the user to the inviting organization.
func (s *Service) AcceptInvitation(ctx context.Context, user usercontext.UserContext, token string) (*models.OrganizationMember, error) {
	inv, err := s.redeemable(user, token)
	if err != nil {
		return nil, err
	}

	if _, err := s.members.GetByUserID(user.UserID); err == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup membership: %w", err)
	}

	member := &models.OrganizationMember{
		OrganizationID: inv.OrganizationID,
		UserID:         user.UserID,
		Role:           inv.Role,
	}
	if err := s.members.Create(member); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("create membership: %w", err)
	}

	now := s.now()
	inv.Status = models.InvitationStatusAccepted
	inv.AcceptedAt = &now
	if err := s.invitations.Update(inv); err != nil {
		return nil, fmt.Errorf("mark invitation accepted: %w", err)
	}
	log.Infof("[Organization] User %d joined organization %d as %s", user.UserID, inv.OrganizationID, inv.Role)
	return member, nil
}

// DeclineInvitation settles the invitation without joining.
func (s *Service) DeclineInvitation(ctx context.Context, user usercontext.UserContext, token string) error {
	inv, err := s.redeemable(user, token)
	if err != nil {
		return err
	}
	inv.Status = models.InvitationStatusDeclined
	if err := s.invitations.Update(inv); err != nil {
		return fmt.Errorf("decline invitation: %w", err)
	}
	return nil
}

// ListMembers returns all memberships of the caller's organization.
func (s *Service) ListMembers(ctx context.Context, user usercontext.UserContext) ([]models.OrganizationMember, error) {
	_, org, err := s.memberOrganization(user.UserID)
	if err != nil {
		return nil, err
	}
	return s.members.ListByOrganization(org.ID)
}

// ExpireStaleInvitations marks all overdue pending invitations expired.
func (s *Service) ExpireStaleInvitations(ctx context.Context) (int64, error) {
	n, err := s.invitations.ExpirePending(s.now())
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	s.metrics.Expired(n)
	if n > 0 {
		log.Infof("[Organization] Expired %d stale invitations", n)
	}
	return n, nil
}
