package billing

import (
	"errors"
	"fmt"
)

// Business errors returned by the billing service. Controllers map them to
// client-facing status codes.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrOrganizationExists    = errors.New("organization already exists for this user")
	ErrInvalidInvitationCode = errors.New("invalid invitation code")
	ErrNoOrganization        = errors.New("no organization found")
	ErrForbidden             = errors.New("insufficient organization role")
	ErrAlreadyActive         = errors.New("subscription is already active")
	ErrNoCustomer            = errors.New("organization has no payment customer")
	ErrNoSubscription        = errors.New("organization has no subscription")
	ErrUnknownPlan           = errors.New("unknown plan")
	ErrUnknownAddon          = errors.New("unknown credit add-on")
	ErrUnknownPrice          = errors.New("unknown price id")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
)

// GatewayError wraps a failure reported by the payment processor.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func gatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{Op: op, Err: err}
}
