// Package strategy holds what the subscriber strategies share: the energy
// gate that reserves the premium option to users above a threshold.
package strategy

import (
	"errors"
	"fmt"
	"math/big"

	"cosmossdk.io/math"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
	"subfee/internal/subscriptionfee"
)

// PremiumIndex is the service option reserved to users with enough energy.
// Option 0 is the normal one.
const PremiumIndex uint32 = 1

var (
	ErrNoEnergyFactory      = errors.New("energy factory is not set")
	ErrBelowEnergyThreshold = errors.New("user energy below threshold")
	ErrInvalidEnergyFactory = errors.New("invalid energy factory address")
)

var (
	energyFactory   = storage.NewValue[models.Address]([]byte("energyFactoryAddress"))
	energyThreshold = storage.NewValue[*big.Int]([]byte("energyThreshold"))
)

// SetEnergyGate configures the energy factory and the premium threshold of
// the executing subscriber. Owner endpoint.
func SetEnergyGate(ctx *chain.Ctx, factory models.Address, threshold math.Int) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if !ctx.IsSmartContract(factory) {
		return fmt.Errorf("%w: %s", ErrInvalidEnergyFactory, factory)
	}
	if threshold.IsNil() || threshold.IsNegative() {
		return errors.New("energy threshold cannot be negative")
	}
	if err := energyFactory.Set(ctx.Store(), factory); err != nil {
		return err
	}
	return energyThreshold.Set(ctx.Store(), models.IntToBig(threshold))
}

// EnergyThreshold returns the premium threshold
func EnergyThreshold(r storage.Reader) (math.Int, error) {
	threshold, err := energyThreshold.GetOrDefault(r, nil)
	return models.BigToInt(threshold), err
}

// UserEnergy queries the energy factory for the energy of user
func UserEnergy(ctx *chain.Ctx, user models.Address) (math.Int, error) {
	factory, ok, err := energyFactory.Get(ctx.Store())
	if err != nil {
		return math.Int{}, err
	}
	if !ok {
		return math.Int{}, ErrNoEnergyFactory
	}

	var energy math.Int
	err = chain.Invoke(ctx, factory, nil, func(f subscriptionfee.EnergySource, call *chain.Ctx) error {
		var queryErr error
		energy, queryErr = f.Energy(call, user)
		return queryErr
	})
	return energy, err
}

// RequirePremium fails with ErrBelowEnergyThreshold when serviceIndex is the
// premium option and user does not hold enough energy
func RequirePremium(ctx *chain.Ctx, serviceIndex uint32, user models.Address) error {
	if serviceIndex != PremiumIndex {
		return nil
	}
	threshold, err := EnergyThreshold(ctx.Store())
	if err != nil {
		return err
	}
	energy, err := UserEnergy(ctx, user)
	if err != nil {
		return err
	}
	if energy.LT(threshold) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrBelowEnergyThreshold, user, energy, threshold)
	}
	return nil
}
