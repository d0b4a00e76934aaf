package repository

import (
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
	"gorm.io/gorm"
)

// invitationRepository implements the InvitationRepository interface
type invitationRepository struct {
	db *gorm.DB
}

// NewInvitationRepository creates a new invitation repository instance
func NewInvitationRepository(db *gorm.DB) InvitationRepository {
	return &invitationRepository{db: db}
}

// Create inserts an invitation
func (r *invitationRepository) Create(inv *models.OrganizationInvitation) error {
	return r.db.Create(inv).Error
}

// GetByID retrieves an invitation by its ID
func (r *invitationRepository) GetByID(id uint) (*models.OrganizationInvitation, error) {
	var inv models.OrganizationInvitation
	if err := r.db.First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetByToken retrieves an invitation by its redemption token
func (r *invitationRepository) GetByToken(token string) (*models.OrganizationInvitation, error) {
	var inv models.OrganizationInvitation
	if err := r.db.Where("token = ?", token).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListPendingByOrganization lists pending invitations of an organization, newest first
func (r *invitationRepository) ListPendingByOrganization(orgID uint) ([]models.OrganizationInvitation, error) {
	var invs []models.OrganizationInvitation
	err := r.db.Where("organization_id = ? AND status = ?", orgID, models.InvitationStatusPending).
		Order("created_at DESC").Find(&invs).Error
	return invs, err
}

// FindPendingByOrganizationAndEmail returns an open invitation for the email, if any
func (r *invitationRepository) FindPendingByOrganizationAndEmail(orgID uint, email string) (*models.OrganizationInvitation, error) {
	var inv models.OrganizationInvitation
	err := r.db.Where("organization_id = ? AND email = ? AND status = ?", orgID, models.NormalizeEmail(email), models.InvitationStatusPending).
		First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Update saves an invitation
func (r *invitationRepository) Update(inv *models.OrganizationInvitation) error {
	return r.db.Save(inv).Error
}

// ExpirePending marks overdue pending invitations as expired
func (r *invitationRepository) ExpirePending(now time.Time) (int64, error) {
	tx := r.db.Model(&models.OrganizationInvitation{}).
		Where("status = ? AND expires_at <= ?", models.InvitationStatusPending, now).
		Update("status", models.InvitationStatusExpired)
	return tx.RowsAffected, tx.Error
}
