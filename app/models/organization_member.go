package models

import "time"

// Member roles, ordered from most to least privileged.
const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
	MemberRoleViewer = "viewer"
)

// OrganizationMember links a user to an organization with a role.
type OrganizationMember struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;uniqueIndex:ux_organization_members_org_user,priority:1;index" json:"organization_id"`
	UserID         uint      `gorm:"not null;uniqueIndex:ux_organization_members_org_user,priority:2;index" json:"user_id"`
	Role           string    `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanManageBilling reports whether the member may start checkouts, open the
// billing portal or change the subscription.
func (m *OrganizationMember) CanManageBilling() bool {
	return m.Role == MemberRoleOwner || m.Role == MemberRoleAdmin
}

// CanInvite reports whether the member may invite or revoke other members.
func (m *OrganizationMember) CanInvite() bool {
	return m.CanManageBilling()
}

// IsValidInviteRole reports whether role may be assigned through an invitation.
// Ownership is never handed out by invitation.
func IsValidInviteRole(role string) bool {
	switch role {
	case MemberRoleAdmin, MemberRoleMember, MemberRoleViewer:
		return true
	default:
		return false
	}
}
