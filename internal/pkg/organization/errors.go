package organization

import "errors"

var (
	ErrNoOrganization          = errors.New("no organization found")
	ErrForbidden               = errors.New("insufficient organization role")
	ErrInvalidEmail            = errors.New("invalid email address")
	ErrInvalidRole             = errors.New("invalid member role")
	ErrAlreadyMember           = errors.New("user is already a member of an organization")
	ErrInvitationPending       = errors.New("an invitation for this email is already pending")
	ErrInvitationNotFound      = errors.New("invitation not found")
	ErrInvitationExpired       = errors.New("invitation has expired")
	ErrInvitationNotPending    = errors.New("invitation is no longer pending")
	ErrInvitationEmailMismatch = errors.New("invitation was issued for a different email address")
)
