package external

import (
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
)

// EnergyFactoryName identifies energy factory contracts
const EnergyFactoryName = "energy-factory"

var (
	baseToken   = storage.NewValue[models.TokenID]([]byte("baseAssetTokenId"))
	lockedToken = storage.NewValue[models.TokenID]([]byte("lockedTokenId"))
)

func userEnergy(user models.Address) storage.Value[*big.Int] {
	return amountValue("userEnergy", user.Bytes())
}

type lockEvent struct {
	Caller      models.Address `json:"caller"`
	Destination models.Address `json:"destination"`
	Locked      models.Payment `json:"locked"`
	Energy      math.Int       `json:"energy"`
}

// EnergyFactory locks the base token into a locked token whose nonce is the
// unlock epoch. Locking raises the destination's energy by amount times
// lock epochs.
type EnergyFactory struct {
	logger *zap.Logger
}

// NewEnergyFactory returns an energy factory contract
func NewEnergyFactory(logger *zap.Logger) *EnergyFactory {
	return &EnergyFactory{logger: logger.Named("energy_factory")}
}

// Name implements chain.Contract
func (f *EnergyFactory) Name() string { return EnergyFactoryName }

// Init sets the base and locked tokens
func (f *EnergyFactory) Init(ctx *chain.Ctx, owner models.Address, base, locked models.TokenID) error {
	if !base.IsValid() || !locked.IsValid() || base == locked {
		return fmt.Errorf("%w: %q/%q", ErrInvalidToken, base, locked)
	}
	if err := access.Init(ctx, owner); err != nil {
		return err
	}
	if err := baseToken.Set(ctx.Store(), base); err != nil {
		return err
	}
	return lockedToken.Set(ctx.Store(), locked)
}

// Energy returns the energy of user
func (f *EnergyFactory) Energy(ctx *chain.Ctx, user models.Address) (math.Int, error) {
	return readAmount(ctx.Store(), userEnergy(user))
}

// SetEnergy overrides the energy of user. Owner endpoint.
func (f *EnergyFactory) SetEnergy(ctx *chain.Ctx, user models.Address, energy math.Int) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if energy.IsNil() || energy.IsNegative() {
		return fmt.Errorf("%w: negative energy", ErrInvalidPayment)
	}
	return writeAmount(ctx.Store(), userEnergy(user), energy)
}

// LockTokens burns the attached base tokens and sends the same amount of
// locked tokens to destination, or to the caller when destination is zero
func (f *EnergyFactory) LockTokens(ctx *chain.Ctx, lockEpochs uint64, destination models.Address) (models.Payment, error) {
	in, err := singlePayment(ctx.Payments())
	if err != nil {
		return models.Payment{}, err
	}
	base, _, err := baseToken.Get(ctx.Store())
	if err != nil {
		return models.Payment{}, err
	}
	if in.Token != base || in.Nonce != 0 {
		return models.Payment{}, fmt.Errorf("%w: can only lock %s", ErrInvalidToken, base)
	}
	if lockEpochs == 0 {
		return models.Payment{}, fmt.Errorf("%w: lock period must be positive", ErrInvalidPayment)
	}
	if destination.IsZero() {
		destination = ctx.Caller()
	}
	locked, _, err := lockedToken.Get(ctx.Store())
	if err != nil {
		return models.Payment{}, err
	}

	if err := ctx.Burn(in); err != nil {
		return models.Payment{}, err
	}
	out := models.NewPayment(locked, ctx.Epoch()+lockEpochs, in.Amount)
	ctx.Mint(out)
	if err := ctx.Send(destination, out); err != nil {
		return models.Payment{}, err
	}

	energy, err := readAmount(ctx.Store(), userEnergy(destination))
	if err != nil {
		return models.Payment{}, err
	}
	energy = energy.Add(in.Amount.Mul(math.NewIntFromUint64(lockEpochs)))
	if err := writeAmount(ctx.Store(), userEnergy(destination), energy); err != nil {
		return models.Payment{}, err
	}

	f.logger.Debug("Tokens locked",
		zap.String("destination", destination.String()),
		zap.String("locked", out.String()))

	ctx.Emit("lockTokens", lockEvent{
		Caller:      ctx.Caller(),
		Destination: destination,
		Locked:      out,
		Energy:      energy,
	})
	return out, nil
}
