package repository

import (
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
	"gorm.io/gorm"
)

// Lookups that find nothing return gorm.ErrRecordNotFound. Writes that hit a
// unique index return gorm.ErrDuplicatedKey. The in-memory implementations
// follow the same contract.

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	TouchAPIKeyUsage(id uint, at time.Time) error
}

// OrganizationRepository defines persistence for organizations.
type OrganizationRepository interface {
	// CreateWithOwner inserts the organization and its owner membership atomically.
	CreateWithOwner(org *models.Organization, owner *models.OrganizationMember) error
	GetByID(id uint) (*models.Organization, error)
	GetByOwnerEmail(email string) (*models.Organization, error)
	GetByStripeCustomerID(customerID string) (*models.Organization, error)
	// UpdateFields writes only the given columns.
	UpdateFields(id uint, fields map[string]interface{}) error
	// ConsumeCredits increments credits_used by amount. When enforce is set the
	// increment only happens if the remaining balance covers it; the returned
	// bool reports whether the row was updated.
	ConsumeCredits(id uint, amount int, enforce bool) (bool, error)
	// AddRolloverCredits atomically increments credits_rollover.
	AddRolloverCredits(id uint, amount int) error
}

// MemberRepository defines persistence for organization memberships.
type MemberRepository interface {
	Create(member *models.OrganizationMember) error
	GetByUserID(userID uint) (*models.OrganizationMember, error)
	GetByOrganizationAndUser(orgID, userID uint) (*models.OrganizationMember, error)
	ListByOrganization(orgID uint) ([]models.OrganizationMember, error)
}

// InvitationRepository defines persistence for organization invitations.
type InvitationRepository interface {
	Create(inv *models.OrganizationInvitation) error
	GetByID(id uint) (*models.OrganizationInvitation, error)
	GetByToken(token string) (*models.OrganizationInvitation, error)
	ListPendingByOrganization(orgID uint) ([]models.OrganizationInvitation, error)
	FindPendingByOrganizationAndEmail(orgID uint, email string) (*models.OrganizationInvitation, error)
	Update(inv *models.OrganizationInvitation) error
	// ExpirePending marks all pending invitations that expired before now.
	ExpirePending(now time.Time) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Organization OrganizationRepository
	Member       MemberRepository
	Invitation   InvitationRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Organization: NewOrganizationRepository(db),
		Member:       NewMemberRepository(db),
		Invitation:   NewInvitationRepository(db),
	}
}
