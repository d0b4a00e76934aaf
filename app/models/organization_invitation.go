package models

import "time"

const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusDeclined = "declined"
	InvitationStatusExpired  = "expired"
)

// InvitationTTL is how long an invitation can be redeemed after creation.
const InvitationTTL = 7 * 24 * time.Hour

// OrganizationInvitation is a pending or settled invite to join an organization.
type OrganizationInvitation struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	OrganizationID  uint       `gorm:"not null;index" json:"organization_id"`
	Email           string     `gorm:"type:varchar(200);not null;index" json:"email"`
	Role            string     `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	InvitedByUserID uint       `gorm:"not null" json:"invited_by_user_id"`
	Token           string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	Status          string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ExpiresAt       time.Time  `gorm:"type:timestamp;not null;index" json:"expires_at"`
	AcceptedAt      *time.Time `gorm:"type:timestamp;default:null" json:"accepted_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPending reports whether the invitation has not been settled yet.
func (i *OrganizationInvitation) IsPending() bool {
	return i.Status == InvitationStatusPending
}

// IsExpiredAt reports whether the invitation is past its expiry at now.
func (i *OrganizationInvitation) IsExpiredAt(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
