package mexlock

import (
	"cosmossdk.io/math"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/subscriber"
)

// Name identifies the buy-and-lock strategy
const Name = "mex-buy-and-lock"

// BuyAndLock converts each user's fee into MEX right after the charge
type BuyAndLock struct {
	logger *zap.Logger
}

var _ subscriber.Strategy = (*BuyAndLock)(nil)

// NewBuyAndLock returns the strategy
func NewBuyAndLock(logger *zap.Logger) *BuyAndLock {
	return &BuyAndLock{logger: logger.Named("mexlock")}
}

// Name implements subscriber.Strategy
func (b *BuyAndLock) Name() string { return Name }

// GasPerUser implements subscriber.Strategy
func (b *BuyAndLock) GasPerUser() uint64 { return SwapGasPerToken + LockGasPerUser }

// PerformAction implements subscriber.Strategy. The fee is consumed: its
// fee share is kept for the owner, the rest is swapped to MEX, burned and
// locked for the user.
func (b *BuyAndLock) PerformAction(ctx *chain.Ctx, req subscriber.ActionRequest) (subscriber.ActionResult, error) {
	percentages, err := PercentagesFor(ctx.Store(), req.ServiceIndex)
	if err != nil {
		return subscriber.ActionResult{}, err
	}

	amounts := percentages.Split(req.Fee.Amount)
	if amounts.Fees.IsPositive() {
		fees := models.NewPayment(req.Fee.Token, req.Fee.Nonce, amounts.Fees)
		if err := subscriber.AddTotalFees(ctx.Store(), fees); err != nil {
			return subscriber.ActionResult{}, err
		}
	}

	consumed := subscriber.ActionResult{Fee: subscriber.FeeConsumed}
	sell := amounts.Sell()
	if !sell.IsPositive() {
		return consumed, nil
	}

	bought, err := buyMex(ctx, req.Fee.Token, sell, math.OneInt())
	if err != nil {
		return subscriber.ActionResult{}, err
	}
	toLock := percentages.LockShare(bought.Amount)
	if err := burnMex(ctx, bought.Amount.Sub(toLock)); err != nil {
		return subscriber.ActionResult{}, err
	}
	if toLock.IsPositive() {
		if err := lockFor(ctx, req.User, toLock); err != nil {
			return subscriber.ActionResult{}, err
		}
	}

	b.logger.Debug("Fee converted",
		zap.Uint64("user_id", req.UserID),
		zap.String("fee", req.Fee.String()),
		zap.String("bought", bought.String()),
		zap.String("locked", toLock.String()))

	return consumed, nil
}
