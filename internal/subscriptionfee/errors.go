package subscriptionfee

import (
	"errors"
	"fmt"

	"subfee/internal/ledger"
)

var (
	ErrNotSmartContract    = errors.New("caller is not a smart contract")
	ErrEmptyDescriptors    = errors.New("no service options given")
	ErrEmptyRequest        = errors.New("empty request")
	ErrAlreadyRegistered   = errors.New("service already registered")
	ErrNotPending          = errors.New("service is not pending approval")
	ErrNotRegistered       = errors.New("service is not registered")
	ErrUnknownService      = errors.New("unknown service id")
	ErrInvalidToken        = errors.New("token is not accepted")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrPremiumBelowNormal  = errors.New("premium amount lower than normal amount")
	ErrInvalidInterval     = errors.New("subscription interval must be positive")
	ErrInvalidCadence      = errors.New("invalid subscription cadence")
	ErrTooManyPending      = errors.New("too many pending services")
	ErrTooManyServiceInfos = errors.New("too many service options")
	ErrTooManyDeposits     = errors.New("too many deposited tokens")
	ErrDepositTooSmall     = errors.New("deposit value below minimum")
	ErrInvalidPayment      = errors.New("invalid payment")
	ErrNoPair              = errors.New("no pair for token")
	ErrInvalidConfig       = errors.New("invalid configuration")
)

// Reasons a payment is refused
var (
	ErrPaymentDenied       = errors.New("payment denied")
	ErrCallerNotService    = errors.New("caller is not a registered service")
	ErrInvalidServiceIndex = errors.New("invalid service index")
	ErrNotSubscribed       = errors.New("user is not subscribed")
	ErrTooSoon             = errors.New("trying to charge too soon")
	ErrUnknownUser         = errors.New("unknown user")
	ErrInsufficientFunds   = ledger.ErrInsufficientFunds
)

// AuthError is a refused charge. Nothing was written when it is returned,
// so a batch may skip the user and carry on.
type AuthError struct {
	Reason error
}

func denied(reason error) error {
	return &AuthError{Reason: reason}
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPaymentDenied, e.Reason)
}

// Unwrap matches both ErrPaymentDenied and the reason
func (e *AuthError) Unwrap() []error {
	return []error{ErrPaymentDenied, e.Reason}
}
