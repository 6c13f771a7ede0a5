// Package subscriptionfee implements the central subscription fee contract:
// user deposits, the service registry, subscriptions and the payment
// authorization used by service contracts to charge their subscribers.
package subscriptionfee

import (
	"fmt"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
)

// ContractName identifies the fee contract kind
const ContractName = "subscription-fee"

// EnergySource reports the energy a user holds
type EnergySource interface {
	chain.Contract
	Energy(ctx *chain.Ctx, user models.Address) (math.Int, error)
}

// Contract is the subscription fee contract. All state lives in the
// contract namespace; the struct only carries the logger.
type Contract struct {
	logger *zap.Logger
}

// New returns a fee contract ready to deploy
func New(logger *zap.Logger) *Contract {
	return &Contract{logger: logger.Named("subscription_fee")}
}

// Name implements chain.Contract
func (c *Contract) Name() string { return ContractName }

// Init configures the contract. Calling it again overwrites the settings.
func (c *Contract) Init(ctx *chain.Ctx, args InitArgs) error {
	if !args.StableToken.IsValid() {
		return fmt.Errorf("%w: stable token %q", ErrInvalidToken, args.StableToken)
	}
	if args.MaxUserDeposits == 0 || args.MaxPendingServices == 0 || args.MaxServiceInfoNo == 0 {
		return fmt.Errorf("%w: limits must be positive", ErrInvalidConfig)
	}
	if err := access.Init(ctx, args.Owner); err != nil {
		return err
	}

	s := ctx.Store()
	if err := stableToken.Set(s, args.StableToken); err != nil {
		return err
	}
	if _, err := acceptedFeesTokens.Insert(s, args.StableToken); err != nil {
		return err
	}
	for _, token := range args.AcceptedTokens {
		if !token.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
		if _, err := acceptedFeesTokens.Insert(s, token); err != nil {
			return err
		}
	}
	if err := minUserDepositValue.Set(s, models.IntToBig(args.MinUserDepositValue)); err != nil {
		return err
	}
	if err := maxUserDeposits.Set(s, args.MaxUserDeposits); err != nil {
		return err
	}
	if err := maxPendingServices.Set(s, args.MaxPendingServices); err != nil {
		return err
	}
	if err := maxServiceInfoNo.Set(s, args.MaxServiceInfoNo); err != nil {
		return err
	}
	if !args.EnergyFactory.IsZero() {
		if err := energyFactory.Set(s, args.EnergyFactory); err != nil {
			return err
		}
	}
	if err := energyThreshold.Set(s, models.IntToBig(args.EnergyThreshold)); err != nil {
		return err
	}

	c.logger.Info("Subscription fee contract initialized",
		zap.String("address", ctx.Self().String()),
		zap.String("owner", args.Owner.String()),
		zap.String("stable_token", string(args.StableToken)))

	return nil
}

// AddAdmins is an owner endpoint
func (c *Contract) AddAdmins(ctx *chain.Ctx, admins []models.Address) error {
	return access.AddAdmins(ctx, admins)
}

// RemoveAdmins is an owner endpoint
func (c *Contract) RemoveAdmins(ctx *chain.Ctx, admins []models.Address) error {
	return access.RemoveAdmins(ctx, admins)
}

// AddAcceptedFeesTokens is an owner endpoint
func (c *Contract) AddAcceptedFeesTokens(ctx *chain.Ctx, tokens []models.TokenID) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	for _, token := range tokens {
		if !token.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
		if _, err := acceptedFeesTokens.Insert(ctx.Store(), token); err != nil {
			return err
		}
	}
	return nil
}

// SetMaxUserDeposits is an owner endpoint
func (c *Contract) SetMaxUserDeposits(ctx *chain.Ctx, max uint64) error {
	return setPositive(ctx, maxUserDeposits.Set, max)
}

// SetMaxPendingServices is an owner endpoint
func (c *Contract) SetMaxPendingServices(ctx *chain.Ctx, max uint64) error {
	return setPositive(ctx, maxPendingServices.Set, max)
}

// SetMaxServiceInfoNo is an owner endpoint
func (c *Contract) SetMaxServiceInfoNo(ctx *chain.Ctx, max uint64) error {
	return setPositive(ctx, maxServiceInfoNo.Set, max)
}

// SetMinUserDepositValue is an owner endpoint. The value is in stable units.
func (c *Contract) SetMinUserDepositValue(ctx *chain.Ctx, value math.Int) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if value.IsNil() || value.IsNegative() {
		return fmt.Errorf("%w: minimum deposit %s", ErrInvalidConfig, value)
	}
	return minUserDepositValue.Set(ctx.Store(), value.BigInt())
}

// SetEnergyFactory is an owner endpoint
func (c *Contract) SetEnergyFactory(ctx *chain.Ctx, addr models.Address) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if !ctx.IsSmartContract(addr) {
		return fmt.Errorf("%w: energy factory %s", ErrInvalidConfig, addr)
	}
	return energyFactory.Set(ctx.Store(), addr)
}

// SetEnergyThreshold is an owner endpoint
func (c *Contract) SetEnergyThreshold(ctx *chain.Ctx, threshold math.Int) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if threshold.IsNil() || threshold.IsNegative() {
		return fmt.Errorf("%w: energy threshold %s", ErrInvalidConfig, threshold)
	}
	return energyThreshold.Set(ctx.Store(), threshold.BigInt())
}

// EnergyThreshold returns the energy a user needs for premium pricing
func EnergyThreshold(r storage.Reader) (math.Int, error) {
	threshold, err := energyThreshold.GetOrDefault(r, nil)
	return models.BigToInt(threshold), err
}

func setPositive(ctx *chain.Ctx, set func(s storage.Store, v uint64) error, v uint64) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if v == 0 {
		return fmt.Errorf("%w: limit must be positive", ErrInvalidConfig)
	}
	return set(ctx.Store(), v)
}

func (c *Contract) isAcceptedToken(ctx *chain.Ctx, token models.TokenID) (bool, error) {
	return acceptedFeesTokens.Contains(ctx.Store(), token)
}

func (c *Contract) stable(ctx *chain.Ctx) (models.TokenID, error) {
	token, ok, err := stableToken.Get(ctx.Store())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: contract is not initialized", ErrInvalidConfig)
	}
	return token, nil
}

// energyTier reports whether user qualifies for premium pricing. Without an
// energy factory every user is charged the normal amount.
func (c *Contract) energyTier(ctx *chain.Ctx, user models.Address) (bool, error) {
	factory, ok, err := energyFactory.Get(ctx.Store())
	if err != nil || !ok {
		return false, err
	}
	threshold, err := energyThreshold.GetOrDefault(ctx.Store(), nil)
	if err != nil {
		return false, err
	}

	var energy math.Int
	err = chain.Invoke(ctx, factory, nil, func(f EnergySource, call *chain.Ctx) error {
		var queryErr error
		energy, queryErr = f.Energy(call, user)
		return queryErr
	})
	if err != nil {
		return false, fmt.Errorf("failed to query energy: %w", err)
	}
	return energy.GTE(models.BigToInt(threshold)), nil
}
