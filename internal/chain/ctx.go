package chain

import (
	"context"
	"fmt"

	"cosmossdk.io/store/cachekv"
	"cosmossdk.io/store/gaskv"
	"cosmossdk.io/store/prefix"
	storetypes "cosmossdk.io/store/types"
	"go.uber.org/zap"

	"subfee/internal/models"
	"subfee/internal/storage"
)

// Flat gas costs charged on top of per-access storage costs
const (
	TxBaseCost   uint64 = 50_000
	CallCost     uint64 = 20_000
	TransferCost uint64 = 5_000
	MintCost     uint64 = 5_000
	BurnCost     uint64 = 5_000
	EventCost    uint64 = 1_000
)

// RemoteReader resolves storage entries owned by another contract. Reads
// observe the state of the running transaction, so there is no staleness
// window between a write in one contract and a read from another.
type RemoteReader interface {
	Remote(contract models.Address) storage.Reader
}

// Ctx is the execution context handed to contract endpoints
type Ctx struct {
	ctx      context.Context
	chain    *Chain
	cache    *cachekv.Store
	store    storetypes.KVStore
	meter    storetypes.GasMeter
	self     models.Address
	caller   models.Address
	payments []models.Payment
	epoch    uint64
	txHash   string
	events   []Event
	logger   *zap.Logger
}

var _ RemoteReader = (*Ctx)(nil)

func (c *Chain) newCtx(
	ctx context.Context,
	cache *cachekv.Store,
	meter storetypes.GasMeter,
	self, caller models.Address,
	payments []models.Payment,
	epoch uint64,
	hash string,
) *Ctx {
	return &Ctx{
		ctx:      ctx,
		chain:    c,
		cache:    cache,
		store:    gaskv.NewStore(cache, meter, storetypes.KVGasConfig()),
		meter:    meter,
		self:     self,
		caller:   caller,
		payments: payments,
		epoch:    epoch,
		txHash:   hash,
		logger:   c.logger,
	}
}

// Context returns the request context of the transaction
func (c *Ctx) Context() context.Context { return c.ctx }

// Self returns the address of the executing contract
func (c *Ctx) Self() models.Address { return c.self }

// Caller returns the address that invoked the executing contract
func (c *Ctx) Caller() models.Address { return c.caller }

// Payments returns the payments attached to the call. They are already
// credited to Self.
func (c *Ctx) Payments() []models.Payment { return c.payments }

// Epoch returns the current block epoch
func (c *Ctx) Epoch() uint64 { return c.epoch }

// TxHash returns the hash of the enclosing transaction
func (c *Ctx) TxHash() string { return c.txHash }

// Logger returns the chain logger
func (c *Ctx) Logger() *zap.Logger { return c.logger }

// Store returns the storage namespace of the executing contract
func (c *Ctx) Store() storage.Store {
	return prefix.NewStore(c.store, contractNamespace(c.self))
}

// Remote returns a read-only view of another contract's namespace
func (c *Ctx) Remote(contract models.Address) storage.Reader {
	return prefix.NewStore(c.store, contractNamespace(contract))
}

// GasLeft returns the remaining gas of the transaction
func (c *Ctx) GasLeft() uint64 {
	return c.meter.GasRemaining()
}

// ConsumeGas charges amount. Exceeding the limit aborts the transaction.
func (c *Ctx) ConsumeGas(amount uint64, descriptor string) {
	c.meter.ConsumeGas(amount, descriptor)
}

// Contract returns the contract deployed at addr
func (c *Ctx) Contract(addr models.Address) (Contract, bool) {
	contract, ok := c.chain.contracts[addr]
	return contract, ok
}

// IsSmartContract reports whether addr holds a deployed contract
func (c *Ctx) IsSmartContract(addr models.Address) bool {
	_, ok := c.chain.contracts[addr]
	return ok && IsSmartContract(addr)
}

// Lookup returns the contract at addr as T
func Lookup[T any](c *Ctx, addr models.Address) (T, error) {
	var zero T
	contract, ok := c.Contract(addr)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrContractNotFound, addr)
	}
	typed, ok := contract.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s at %s", ErrUnexpectedContract, contract.Name(), addr)
	}
	return typed, nil
}

// Call runs fn as a synchronous call from Self into to, moving payments
// first. If fn fails, only the writes of this call are discarded and the
// error is returned to the caller, which may carry on.
func (c *Ctx) Call(to models.Address, payments []models.Payment, fn func(*Ctx) error) error {
	c.ConsumeGas(CallCost, "call")
	if _, ok := c.Contract(to); !ok {
		return fmt.Errorf("%w: %s", ErrContractNotFound, to)
	}
	return c.nested(to, c.self, payments, fn)
}

// Invoke calls fn on the contract at addr, typed as T, inside a sub-call
func Invoke[T any](c *Ctx, addr models.Address, payments []models.Payment, fn func(contract T, call *Ctx) error) error {
	contract, err := Lookup[T](c, addr)
	if err != nil {
		return err
	}
	return c.Call(addr, payments, func(call *Ctx) error {
		return fn(contract, call)
	})
}

// Sandbox runs fn in the same contract with its own revertible writes
func (c *Ctx) Sandbox(fn func(*Ctx) error) error {
	return c.nested(c.self, c.caller, nil, fn)
}

func (c *Ctx) nested(self, caller models.Address, payments []models.Payment, fn func(*Ctx) error) error {
	cache := cachekv.NewStore(c.cache)
	child := c.chain.newCtx(c.ctx, cache, c.meter, self, caller, payments, c.epoch, c.txHash)

	if err := child.transfer(caller, self, payments); err != nil {
		return err
	}
	if err := fn(child); err != nil {
		return err
	}

	cache.Write()
	c.events = append(c.events, child.events...)
	return nil
}

func contractNamespace(addr models.Address) []byte {
	ns := make([]byte, 0, len(contractPrefix)+models.AddressLength)
	ns = append(ns, contractPrefix...)
	return append(ns, addr[:]...)
}
