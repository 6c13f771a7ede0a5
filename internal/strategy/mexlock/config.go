// Package mexlock converts subscription fees into MEX: part of every fee is
// kept as protocol fees, the rest is swapped, partly burned and partly
// locked through the energy factory for the user who paid it.
package mexlock

import (
	"errors"
	"fmt"

	"cosmossdk.io/math"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
)

var (
	ErrNotConfigured  = errors.New("mex operations are not configured")
	ErrNoMexPair      = errors.New("no mex pair set for token")
	ErrInvalidAddress = errors.New("address is not a smart contract")
	ErrInvalidPeriod  = errors.New("lock period must be positive")
	ErrSlippage       = errors.New("bought mex below minimum")
)

var (
	mexToken    = storage.NewValue[models.TokenID]([]byte("mexTokenId"))
	lockFactory = storage.NewValue[models.Address]([]byte("simpleLockAddress"))
	lockPeriod  = storage.NewValue[uint64]([]byte("lockPeriod"))
)

func mexPair(token models.TokenID) storage.Value[models.Address] {
	return storage.NewValue[models.Address](storage.Key("mexPairs", []byte(token)))
}

func userPercentages(serviceIndex uint32) storage.Value[Percentages] {
	return storage.NewValue[Percentages](storage.Key("userPercentage", storage.U32(serviceIndex)))
}

// Config is the MEX setup of a subscriber. Percentages are indexed by
// service option.
type Config struct {
	MexToken    models.TokenID
	LockFactory models.Address
	LockPeriod  uint64
	Percentages []Percentages
}

// Pair is the swap side of a pair contract
type Pair interface {
	chain.Contract
	SwapFixedInput(ctx *chain.Ctx, tokenOut models.TokenID, minAmountOut math.Int) (models.Payment, error)
}

// Locker is the lock side of an energy factory
type Locker interface {
	chain.Contract
	LockTokens(ctx *chain.Ctx, lockEpochs uint64, destination models.Address) (models.Payment, error)
}

// Configure stores cfg in the executing subscriber. Owner endpoint.
func Configure(ctx *chain.Ctx, cfg Config) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if !cfg.MexToken.IsValid() {
		return fmt.Errorf("invalid mex token %q", cfg.MexToken)
	}
	if !ctx.IsSmartContract(cfg.LockFactory) {
		return fmt.Errorf("%w: lock factory %s", ErrInvalidAddress, cfg.LockFactory)
	}
	if cfg.LockPeriod == 0 {
		return ErrInvalidPeriod
	}
	for i, p := range cfg.Percentages {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("option %d: %w", i, err)
		}
	}

	s := ctx.Store()
	if err := mexToken.Set(s, cfg.MexToken); err != nil {
		return err
	}
	if err := lockFactory.Set(s, cfg.LockFactory); err != nil {
		return err
	}
	if err := lockPeriod.Set(s, cfg.LockPeriod); err != nil {
		return err
	}
	for i, p := range cfg.Percentages {
		if err := userPercentages(uint32(i)).Set(s, p); err != nil {
			return err
		}
	}
	return nil
}

// AddMexPair sets the pair used to swap token into MEX. Owner endpoint.
func AddMexPair(ctx *chain.Ctx, token models.TokenID, pair models.Address) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if !token.IsValid() {
		return fmt.Errorf("invalid token %q", token)
	}
	if !ctx.IsSmartContract(pair) {
		return fmt.Errorf("%w: pair %s", ErrInvalidAddress, pair)
	}
	return mexPair(token).Set(ctx.Store(), pair)
}

// MexPair returns the pair swapping token into MEX
func MexPair(r storage.Reader, token models.TokenID) (models.Address, bool, error) {
	return mexPair(token).Get(r)
}

// RemoveMexPair is an owner endpoint
func RemoveMexPair(ctx *chain.Ctx, token models.TokenID) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	mexPair(token).Clear(ctx.Store())
	return nil
}

// SetPercentages replaces the split of one service option. Owner endpoint.
func SetPercentages(ctx *chain.Ctx, serviceIndex uint32, p Percentages) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return userPercentages(serviceIndex).Set(ctx.Store(), p)
}

// SetLockPeriod is an owner endpoint
func SetLockPeriod(ctx *chain.Ctx, epochs uint64) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if epochs == 0 {
		return ErrInvalidPeriod
	}
	return lockPeriod.Set(ctx.Store(), epochs)
}

// PercentagesFor returns the split of a service option
func PercentagesFor(r storage.Reader, serviceIndex uint32) (Percentages, error) {
	p, ok, err := userPercentages(serviceIndex).Get(r)
	if err != nil {
		return Percentages{}, err
	}
	if !ok {
		return Percentages{}, fmt.Errorf("%w: no percentages for option %d", ErrNotConfigured, serviceIndex)
	}
	return p, nil
}

func mexTokenID(r storage.Reader) (models.TokenID, error) {
	token, ok, err := mexToken.Get(r)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotConfigured
	}
	return token, nil
}

// buyMex swaps amount of token into MEX. Fees already paid in MEX are
// taken as they are.
func buyMex(ctx *chain.Ctx, token models.TokenID, amount, minAmountOut math.Int) (models.Payment, error) {
	mex, err := mexTokenID(ctx.Store())
	if err != nil {
		return models.Payment{}, err
	}
	if token == mex {
		return models.NewPayment(mex, 0, amount), nil
	}
	pair, ok, err := mexPair(token).Get(ctx.Store())
	if err != nil {
		return models.Payment{}, err
	}
	if !ok {
		return models.Payment{}, fmt.Errorf("%w: %s", ErrNoMexPair, token)
	}

	var bought models.Payment
	payment := []models.Payment{models.NewPayment(token, 0, amount)}
	err = chain.Invoke(ctx, pair, payment, func(p Pair, call *chain.Ctx) error {
		var swapErr error
		bought, swapErr = p.SwapFixedInput(call, mex, minAmountOut)
		return swapErr
	})
	return bought, err
}

// lockFor locks amount of MEX for user through the energy factory
func lockFor(ctx *chain.Ctx, user models.Address, amount math.Int) error {
	mex, err := mexTokenID(ctx.Store())
	if err != nil {
		return err
	}
	factory, ok, err := lockFactory.Get(ctx.Store())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConfigured
	}
	epochs, err := lockPeriod.GetOrDefault(ctx.Store(), 0)
	if err != nil {
		return err
	}

	payment := []models.Payment{models.NewPayment(mex, 0, amount)}
	return chain.Invoke(ctx, factory, payment, func(l Locker, call *chain.Ctx) error {
		_, lockErr := l.LockTokens(call, epochs, user)
		return lockErr
	})
}

// burnMex burns MEX held by the executing contract
func burnMex(ctx *chain.Ctx, amount math.Int) error {
	if !amount.IsPositive() {
		return nil
	}
	mex, err := mexTokenID(ctx.Store())
	if err != nil {
		return err
	}
	return ctx.Burn(models.NewPayment(mex, 0, amount))
}
