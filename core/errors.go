package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidDestination     = errors.New("invalid destination")
	ErrTransactionTooLarge    = errors.New("transaction too large")
	ErrDecryptionFailure      = errors.New("unable to decrypt keychain")
	ErrSignatureInvalid       = errors.New("signature invalid")
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrPolicyDenied           = errors.New("policy denied")
	ErrNotAuthorized          = errors.New("not authorized")
)

// ValidationError reports malformed input. It is always raised before any
// network call.
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InsufficientFundsError carries the fee that was attempted when the
// eligible unspents ran out.
type InsufficientFundsError struct {
	Fee       int64
	Available int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d, required %d (fee %d)", e.Available, e.Required, e.Fee)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

type PolicyDeniedError struct {
	RuleID        string
	Reason        string
	NeedsApproval bool
}

func (e *PolicyDeniedError) Error() string {
	if e.RuleID == "" {
		return "policy denied: " + e.Reason
	}

	return fmt.Sprintf("policy denied by rule %s: %s", e.RuleID, e.Reason)
}

func (e *PolicyDeniedError) Unwrap() error {
	return ErrPolicyDenied
}
