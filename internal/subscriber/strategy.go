package subscriber

import (
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/subscriptionfee"
)

// FeeDisposition tells the batch engine what to do with the fee charged
// for a user once the strategy ran
type FeeDisposition uint8

const (
	// FeeToCaller adds the fee to the payout of the batch caller
	FeeToCaller FeeDisposition = iota
	// FeePending keeps the fee in the contract as the user's outstanding
	// charge until a later operation consumes it
	FeePending
	// FeeConsumed means the strategy already spent the fee
	FeeConsumed
)

func (d FeeDisposition) String() string {
	switch d {
	case FeeToCaller:
		return "to_caller"
	case FeePending:
		return "pending"
	case FeeConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// ActionRequest is what a strategy gets for one charged user
type ActionRequest struct {
	UserID       uint64
	User         models.Address
	ServiceIndex uint32
	Service      subscriptionfee.ServiceDescriptor
	Fee          models.Payment
	// Payment is the user's endpoint payment, already moved out of the
	// user's tokens. Zero when the option names none.
	Payment models.Payment
	// Arg is the per-user auxiliary argument, nil when the batch has none
	Arg []byte
}

// ActionResult is the outcome of a strategy for one user
type ActionResult struct {
	Rewards []models.Payment
	Fee     FeeDisposition
}

// Strategy is the per-deployment action run for every charged user. It
// executes inside the subscriber contract; its writes are discarded when it
// fails.
type Strategy interface {
	Name() string
	// GasPerUser is the most gas PerformAction is expected to use for
	// one user
	GasPerUser() uint64
	PerformAction(ctx *chain.Ctx, req ActionRequest) (ActionResult, error)
}

// FeeContract is the part of the subscription fee contract a service uses
type FeeContract interface {
	chain.Contract
	RegisterService(ctx *chain.Ctx, descriptors []subscriptionfee.ServiceDescriptor) error
	AddExtraServices(ctx *chain.Ctx, descriptors []subscriptionfee.ServiceDescriptor) error
	UnregisterService(ctx *chain.Ctx) error
	SubtractPayment(ctx *chain.Ctx, serviceIndex uint32, userID uint64) (models.Payment, error)
}
