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

// FarmName identifies farm contracts
const FarmName = "farm"

var rewardToken = storage.NewValue[models.TokenID]([]byte("rewardTokenId"))

func allowExternalClaim(user models.Address) storage.Value[bool] {
	return storage.NewValue[bool](storage.Key("allowExternalClaimBoostedRewards", user.Bytes()))
}

func accruedRewards(user models.Address) storage.Value[*big.Int] {
	return amountValue("accumulatedRewards", user.Bytes())
}

type claimBoostedEvent struct {
	Caller  models.Address `json:"caller"`
	User    models.Address `json:"user"`
	Rewards models.Payment `json:"rewards"`
}

// Farm accrues boosted rewards per user. Anyone may claim them on behalf
// of a user who allowed external claims; the rewards always go to the user.
type Farm struct {
	logger *zap.Logger
}

// NewFarm returns a farm contract
func NewFarm(logger *zap.Logger) *Farm {
	return &Farm{logger: logger.Named("farm")}
}

// Name implements chain.Contract
func (f *Farm) Name() string { return FarmName }

// Init sets the reward token
func (f *Farm) Init(ctx *chain.Ctx, owner models.Address, reward models.TokenID) error {
	if !reward.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidToken, reward)
	}
	if err := access.Init(ctx, owner); err != nil {
		return err
	}
	return rewardToken.Set(ctx.Store(), reward)
}

// SetAllowExternalClaim lets the caller opt in or out of external claims
func (f *Farm) SetAllowExternalClaim(ctx *chain.Ctx, allow bool) error {
	if allow {
		return allowExternalClaim(ctx.Caller()).Set(ctx.Store(), true)
	}
	allowExternalClaim(ctx.Caller()).Clear(ctx.Store())
	return nil
}

// AllowsExternalClaim reports whether user opted in to external claims
func (f *Farm) AllowsExternalClaim(ctx *chain.Ctx, user models.Address) (bool, error) {
	return allowExternalClaim(user).GetOrDefault(ctx.Store(), false)
}

// AccrueRewards credits boosted rewards to user. Owner endpoint.
func (f *Farm) AccrueRewards(ctx *chain.Ctx, user models.Address, amount math.Int) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: rewards must be positive", ErrInvalidPayment)
	}
	current, err := readAmount(ctx.Store(), accruedRewards(user))
	if err != nil {
		return err
	}
	return writeAmount(ctx.Store(), accruedRewards(user), current.Add(amount))
}

// PendingRewards returns the boosted rewards user can claim
func (f *Farm) PendingRewards(ctx *chain.Ctx, user models.Address) (math.Int, error) {
	return readAmount(ctx.Store(), accruedRewards(user))
}

// ClaimBoostedRewards sends the accrued rewards of user to user
func (f *Farm) ClaimBoostedRewards(ctx *chain.Ctx, user models.Address) (models.Payment, error) {
	if ctx.Caller() != user {
		allowed, err := allowExternalClaim(user).GetOrDefault(ctx.Store(), false)
		if err != nil {
			return models.Payment{}, err
		}
		if !allowed {
			return models.Payment{}, fmt.Errorf("%w: %s", ErrClaimNotAllowed, user)
		}
	}

	token, _, err := rewardToken.Get(ctx.Store())
	if err != nil {
		return models.Payment{}, err
	}
	accrued, _, err := accruedRewards(user).Take(ctx.Store())
	if err != nil {
		return models.Payment{}, err
	}
	rewards := models.NewPayment(token, 0, models.BigToInt(accrued))
	if rewards.IsZero() {
		return rewards, nil
	}

	ctx.Mint(rewards)
	if err := ctx.Send(user, rewards); err != nil {
		return models.Payment{}, err
	}

	f.logger.Debug("Boosted rewards claimed",
		zap.String("user", user.String()),
		zap.String("rewards", rewards.String()))

	ctx.Emit("claimBoostedRewards", claimBoostedEvent{
		Caller:  ctx.Caller(),
		User:    user,
		Rewards: rewards,
	})
	return rewards, nil
}
