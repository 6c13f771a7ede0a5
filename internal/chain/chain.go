package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"cosmossdk.io/store/cachekv"
	"cosmossdk.io/store/dbadapter"
	storetypes "cosmossdk.io/store/types"
	dbm "github.com/cosmos/cosmos-db"
	"go.uber.org/zap"

	"subfee/internal/models"
)

// Storage backends
const (
	BackendMemDB     = "memdb"
	BackendGoLevelDB = "goleveldb"
)

// DefaultGasLimit is used when a transaction does not name a limit
const DefaultGasLimit uint64 = 600_000_000

var (
	// ErrOutOfGas is returned when a transaction exhausts its gas limit.
	// All of its state changes are discarded.
	ErrOutOfGas = errors.New("out of gas")
	// ErrContractNotFound is returned for calls to an address with no contract
	ErrContractNotFound = errors.New("contract not found")
	// ErrUnexpectedContract is returned when the contract at an address does
	// not expose the expected endpoints
	ErrUnexpectedContract = errors.New("unexpected contract type")
	// ErrInsufficientBalance is returned by transfers and burns
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAddressTaken is returned when deploying over an existing contract
	ErrAddressTaken = errors.New("address already holds a contract")
)

var (
	contractPrefix = []byte{0x01}
	balancePrefix  = []byte{0x02}
	metaPrefix     = []byte{0x03}

	epochKey = append(append([]byte{}, metaPrefix...), []byte("epoch")...)
	nonceKey = append(append([]byte{}, metaPrefix...), []byte("nonce")...)
)

// Contract is any object deployed at an address. Endpoints are plain Go
// methods taking a *Ctx as their first argument.
type Contract interface {
	Name() string
}

// Config selects the storage backend
type Config struct {
	Backend string
	DataDir string
}

// Tx describes one top-level call
type Tx struct {
	Caller   models.Address
	To       models.Address
	Payments []models.Payment
	GasLimit uint64
}

// Receipt is the outcome of a transaction
type Receipt struct {
	TxHash  string  `json:"tx_hash"`
	Epoch   uint64  `json:"epoch"`
	GasUsed uint64  `json:"gas_used"`
	Events  []Event `json:"events"`
}

// Chain is a single-threaded execution host. Every call runs against a
// cache-wrapped view of state and is committed only when it succeeds.
type Chain struct {
	mu        sync.Mutex
	db        dbm.DB
	root      storetypes.KVStore
	contracts map[models.Address]Contract
	sinks     []EventSink
	logger    *zap.Logger
}

// Open creates a chain on the configured backend
func Open(cfg Config, logger *zap.Logger) (*Chain, error) {
	var db dbm.DB
	switch cfg.Backend {
	case "", BackendMemDB:
		db = dbm.NewMemDB()
	case BackendGoLevelDB:
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data dir is required for %s backend", cfg.Backend)
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		levelDB, err := dbm.NewDB("chain", dbm.GoLevelDBBackend, cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open goleveldb: %w", err)
		}
		db = levelDB
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	return New(db, logger), nil
}

// New creates a chain on top of an existing database
func New(db dbm.DB, logger *zap.Logger) *Chain {
	return &Chain{
		db:        db,
		root:      dbadapter.Store{DB: db},
		contracts: make(map[models.Address]Contract),
		logger:    logger.Named("chain"),
	}
}

// Close releases the backing database
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// AddSink registers a consumer of committed events
func (c *Chain) AddSink(sink EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// Epoch returns the current epoch
func (c *Chain) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch()
}

func (c *Chain) epoch() uint64 {
	raw := c.root.Get(epochKey)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// SetEpoch moves the chain to epoch. Epochs never go backwards.
func (c *Chain) SetEpoch(epoch uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current := c.epoch(); epoch < current {
		return fmt.Errorf("cannot move epoch back from %d to %d", current, epoch)
	}
	c.root.Set(epochKey, encodeNonce(epoch))
	return nil
}

// AdvanceEpochs moves the chain n epochs forward and returns the new epoch
func (c *Chain) AdvanceEpochs(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	epoch := c.epoch() + n
	c.root.Set(epochKey, encodeNonce(epoch))
	return epoch
}

// Deploy places contract at the address derived from deployer and salt.
// Redeploying the same object kind at the same address is a no-op, so a
// node can rebuild its contract set over persisted state.
func (c *Chain) Deploy(deployer models.Address, salt string, contract Contract) (models.Address, error) {
	addr, err := ComputeContractAddress(deployer, salt)
	if err != nil {
		return models.Address{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.contracts[addr]; ok && existing.Name() != contract.Name() {
		return models.Address{}, fmt.Errorf("%w: %s", ErrAddressTaken, addr)
	}
	c.contracts[addr] = contract

	c.logger.Debug("Contract deployed",
		zap.String("name", contract.Name()),
		zap.String("address", addr.String()))

	return addr, nil
}

// Contract returns the contract deployed at addr
func (c *Chain) Contract(addr models.Address) (Contract, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contract, ok := c.contracts[addr]
	return contract, ok
}

// Execute runs fn as the body of a transaction. State changes are
// committed only if fn returns nil; running out of gas reverts everything.
func (c *Chain) Execute(ctx context.Context, tx Tx, fn func(*Ctx) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	gasLimit := tx.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	nonce := c.nextNonce()
	epoch := c.epoch()
	receipt := &Receipt{
		TxHash: txHash(tx.Caller, tx.To, nonce),
		Epoch:  epoch,
	}

	meter := storetypes.NewGasMeter(gasLimit)
	cache := cachekv.NewStore(c.root)
	call := c.newCtx(ctx, cache, meter, tx.To, tx.Caller, tx.Payments, epoch, receipt.TxHash)

	err := runGuarded(func() error {
		call.ConsumeGas(TxBaseCost, "tx base")
		if _, ok := c.contracts[tx.To]; !ok && IsSmartContract(tx.To) {
			return fmt.Errorf("%w: %s", ErrContractNotFound, tx.To)
		}
		if err := call.transfer(tx.Caller, tx.To, tx.Payments); err != nil {
			return err
		}
		return fn(call)
	})
	receipt.GasUsed = meter.GasConsumedToLimit()

	if err != nil {
		c.logger.Debug("Transaction reverted",
			zap.String("tx_hash", receipt.TxHash),
			zap.String("caller", tx.Caller.String()),
			zap.String("to", tx.To.String()),
			zap.Uint64("gas_used", receipt.GasUsed),
			zap.Error(err))
		return receipt, err
	}

	cache.Write()
	receipt.Events = call.events

	for _, sink := range c.sinks {
		if err := sink.HandleEvents(ctx, receipt); err != nil {
			c.logger.Warn("Event sink failed",
				zap.String("tx_hash", receipt.TxHash),
				zap.Error(err))
		}
	}

	return receipt, nil
}

// Query runs fn read-only on behalf of addr. Nothing it writes is kept.
func (c *Chain) Query(ctx context.Context, addr models.Address, fn func(*Ctx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cache := cachekv.NewStore(c.root)
	call := c.newCtx(ctx, cache, storetypes.NewInfiniteGasMeter(), addr, models.ZeroAddress, nil, c.epoch(), "")
	return runGuarded(func() error {
		return fn(call)
	})
}

// Balance returns the committed balance of an account
func (c *Chain) Balance(addr models.Address, token models.TokenID, nonce uint64) (models.Payment, error) {
	var balance models.Payment
	err := c.Query(context.Background(), addr, func(call *Ctx) error {
		balance = models.NewPayment(token, nonce, call.Balance(addr, token, nonce))
		return nil
	})
	return balance, err
}

// Mint credits tokens to an account outside any transaction. It is meant
// for genesis and tests.
func (c *Chain) Mint(to models.Address, payments ...models.Payment) error {
	_, err := c.Execute(context.Background(), Tx{Caller: to, To: to}, func(call *Ctx) error {
		for _, p := range payments {
			call.credit(to, p)
		}
		return nil
	})
	return err
}

func (c *Chain) nextNonce() uint64 {
	var nonce uint64
	if raw := c.root.Get(nonceKey); len(raw) == 8 {
		nonce = binary.BigEndian.Uint64(raw)
	}
	nonce++
	c.root.Set(nonceKey, encodeNonce(nonce))
	return nonce
}

func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case storetypes.ErrorOutOfGas:
				err = fmt.Errorf("%w: %s", ErrOutOfGas, e.Descriptor)
			case storetypes.ErrorGasOverflow:
				err = fmt.Errorf("%w: %s", ErrOutOfGas, e.Descriptor)
			default:
				panic(r)
			}
		}
	}()
	return fn()
}

func encodeNonce(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
