package repository

import (
	"strings"

	"github.com/ManuelReschke/SprayOps/app/models"
	"gorm.io/gorm"
)

// organizationRepository implements the OrganizationRepository interface
type organizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository creates a new organization repository instance
func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

// CreateWithOwner inserts the organization and the owner membership in one transaction.
func (r *organizationRepository) CreateWithOwner(org *models.Organization, owner *models.OrganizationMember) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		owner.OrganizationID = org.ID
		return tx.Create(owner).Error
	})
}

// GetByID retrieves an organization by its ID
func (r *organizationRepository) GetByID(id uint) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.First(&org, id).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// GetByOwnerEmail retrieves the organization owned by the given email address
func (r *organizationRepository) GetByOwnerEmail(email string) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.Where("owner_email = ?", models.NormalizeEmail(email)).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// GetByStripeCustomerID retrieves an organization by its payment-processor customer id
func (r *organizationRepository) GetByStripeCustomerID(customerID string) (*models.Organization, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var org models.Organization
	if err := r.db.Where("stripe_customer_id = ?", id).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// UpdateFields writes the given columns of a single organization. MySQL
// reports unchanged rows as unaffected, so a missing row is not detected here.
func (r *organizationRepository) UpdateFields(id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.Model(&models.Organization{}).Where("id = ?", id).Updates(fields).Error
}

// ConsumeCredits increments credits_used, optionally guarded by the remaining balance.
func (r *organizationRepository) ConsumeCredits(id uint, amount int, enforce bool) (bool, error) {
	q := r.db.Model(&models.Organization{}).Where("id = ?", id)
	if enforce {
		q = q.Where("credits_total + credits_rollover - credits_used >= ?", amount)
	}
	tx := q.UpdateColumn("credits_used", gorm.Expr("credits_used + ?", amount))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// AddRolloverCredits atomically adds purchased credits to the rollover balance.
func (r *organizationRepository) AddRolloverCredits(id uint, amount int) error {
	tx := r.db.Model(&models.Organization{}).Where("id = ?", id).
		UpdateColumn("credits_rollover", gorm.Expr("credits_rollover + ?", amount))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
