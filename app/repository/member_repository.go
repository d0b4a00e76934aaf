package repository

import (
	"github.com/ManuelReschke/SprayOps/app/models"
	"gorm.io/gorm"
)

// memberRepository implements the MemberRepository interface
type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new membership repository instance
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

// Create inserts a membership row
func (r *memberRepository) Create(member *models.OrganizationMember) error {
	return r.db.Create(member).Error
}

// GetByUserID returns the first membership of a user
func (r *memberRepository) GetByUserID(userID uint) (*models.OrganizationMember, error) {
	var m models.OrganizationMember
	if err := r.db.Where("user_id = ?", userID).Order("id ASC").First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByOrganizationAndUser returns the membership of a user in a specific organization
func (r *memberRepository) GetByOrganizationAndUser(orgID, userID uint) (*models.OrganizationMember, error) {
	var m models.OrganizationMember
	if err := r.db.Where("organization_id = ? AND user_id = ?", orgID, userID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByOrganization lists all members of an organization, oldest first
func (r *memberRepository) ListByOrganization(orgID uint) ([]models.OrganizationMember, error) {
	var members []models.OrganizationMember
	err := r.db.Where("organization_id = ?", orgID).Order("id ASC").Find(&members).Error
	return members, err
}
