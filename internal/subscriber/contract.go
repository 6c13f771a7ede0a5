// Package subscriber implements a service contract registered at the
// subscription fee contract. It charges its subscribers in resumable,
// gas-bounded batches and runs its strategy for every charged user.
package subscriber

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
	"subfee/internal/subscriptionfee"
)

// ContractName identifies subscriber contracts
const ContractName = "subscriber"

var (
	ErrNotInitialized       = errors.New("subscriber contract is not initialized")
	ErrServiceNotRegistered = errors.New("service is not registered at the fee contract")
	ErrInvalidServiceIndex  = errors.New("invalid service index")
	ErrFeesNotProcessed     = errors.New("last fees not processed yet")
	ErrTokenNotAccepted     = errors.New("token is not accepted")
	ErrInvalidDeposit       = errors.New("invalid deposit")
	ErrUnknownUser          = errors.New("unknown user")
	ErrNoEndpointPayment    = errors.New("user holds no endpoint payment token")
)

var feeContractAddress = storage.NewValue[models.Address]([]byte("feesContractAddress"))

// InitArgs configures a new subscriber contract
type InitArgs struct {
	Owner       models.Address
	FeeContract models.Address
	Admins      []models.Address
}

// Contract is a service contract parameterized by its strategy
type Contract struct {
	strategy Strategy
	logger   *zap.Logger
}

// New returns a subscriber contract running strategy
func New(strategy Strategy, logger *zap.Logger) *Contract {
	return &Contract{
		strategy: strategy,
		logger:   logger.Named("subscriber").With(zap.String("strategy", strategy.Name())),
	}
}

// Name implements chain.Contract
func (c *Contract) Name() string { return ContractName }

// Strategy returns the strategy the contract was deployed with
func (c *Contract) Strategy() Strategy { return c.strategy }

// Init configures the contract
func (c *Contract) Init(ctx *chain.Ctx, args InitArgs) error {
	if !ctx.IsSmartContract(args.FeeContract) {
		return fmt.Errorf("fee contract %s is not a smart contract", args.FeeContract)
	}
	if err := access.Init(ctx, args.Owner, args.Admins...); err != nil {
		return err
	}
	return feeContractAddress.Set(ctx.Store(), args.FeeContract)
}

// AddAdmins is an owner endpoint
func (c *Contract) AddAdmins(ctx *chain.Ctx, admins []models.Address) error {
	return access.AddAdmins(ctx, admins)
}

// RemoveAdmins is an owner endpoint
func (c *Contract) RemoveAdmins(ctx *chain.Ctx, admins []models.Address) error {
	return access.RemoveAdmins(ctx, admins)
}

// RegisterAtFeeContract queues the service options at the fee contract.
// Owner endpoint.
func (c *Contract) RegisterAtFeeContract(ctx *chain.Ctx, descriptors []subscriptionfee.ServiceDescriptor) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	return c.callFeeContract(ctx, func(fee FeeContract, call *chain.Ctx) error {
		return fee.RegisterService(call, descriptors)
	})
}

// AddExtraServices appends options at the fee contract. Owner endpoint.
func (c *Contract) AddExtraServices(ctx *chain.Ctx, descriptors []subscriptionfee.ServiceDescriptor) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	return c.callFeeContract(ctx, func(fee FeeContract, call *chain.Ctx) error {
		return fee.AddExtraServices(call, descriptors)
	})
}

// UnregisterAtFeeContract removes the service. Owner endpoint.
func (c *Contract) UnregisterAtFeeContract(ctx *chain.Ctx) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	return c.callFeeContract(ctx, func(fee FeeContract, call *chain.Ctx) error {
		return fee.UnregisterService(call)
	})
}

func (c *Contract) callFeeContract(ctx *chain.Ctx, fn func(fee FeeContract, call *chain.Ctx) error) error {
	addr, err := FeeContractAddress(ctx.Store())
	if err != nil {
		return err
	}
	return chain.Invoke(ctx, addr, nil, fn)
}

// FeeContractAddress returns the fee contract the service is bound to
func FeeContractAddress(r storage.Reader) (models.Address, error) {
	addr, ok, err := feeContractAddress.Get(r)
	if err != nil {
		return models.Address{}, err
	}
	if !ok {
		return models.Address{}, ErrNotInitialized
	}
	return addr, nil
}

// ServiceID resolves the id the fee contract issued to this contract
func ServiceID(ctx *chain.Ctx) (uint64, error) {
	feeAddr, err := FeeContractAddress(ctx.Store())
	if err != nil {
		return 0, err
	}
	id, err := subscriptionfee.ServiceIDs.At(ctx.Remote(feeAddr)).GetIDNonZero(ctx.Self())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrServiceNotRegistered, err)
	}
	return id, nil
}
