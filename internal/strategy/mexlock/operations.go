package mexlock

import (
	"fmt"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/ongoing"
	"subfee/internal/subscriber"
	"subfee/internal/subscriptionfee"
)

// Gas set aside for the work done after the gathering loop
const (
	SwapGasPerToken uint64 = 200_000
	LockGasPerUser  uint64 = 150_000
)

// gatherGas bounds taking the pending fees of one user
const gatherGas uint64 = 50_000

type mexOperationEvent struct {
	Caller         models.Address `json:"caller"`
	Epoch          uint64         `json:"epoch"`
	ServiceIndex   uint32         `json:"service_index"`
	ProcessedUsers []uint64       `json:"processed_users"`
	Bought         math.Int       `json:"bought"`
	Status         ongoing.Status `json:"status"`
}

type lockItem struct {
	userID uint64
	user   models.Address
	amount math.Int
}

// feeGroup is the pending fees of one token gathered in a call
type feeGroup struct {
	token models.TokenID
	nonce uint64
	total math.Int
	items []lockItem
}

// Operations converts the pending fees left by a deferring strategy, such
// as farm boost, into MEX
type Operations struct {
	logger *zap.Logger
}

// NewOperations returns the MEX operations of a subscriber
func NewOperations(logger *zap.Logger) *Operations {
	return &Operations{logger: logger.Named("mex_operations")}
}

// PerformMexOperations takes the pending fees of serviceIndex, swaps them
// into MEX once per token, burns the burn share and locks each user's share
// of the lock part. It shares the checkpoint of PerformService, so neither
// can start while the other is interrupted. Admin endpoint.
func (o *Operations) PerformMexOperations(ctx *chain.Ctx, serviceIndex uint32, minAmountOut math.Int) (ongoing.Status, error) {
	if err := access.RequireAdmin(ctx); err != nil {
		return "", err
	}
	percentages, err := PercentagesFor(ctx.Store(), serviceIndex)
	if err != nil {
		return "", err
	}
	feeAddr, err := subscriber.FeeContractAddress(ctx.Store())
	if err != nil {
		return "", err
	}
	users := subscriptionfee.UserIDs.At(ctx.Remote(feeAddr))

	start := ongoing.MexOperations{ServiceIndex: serviceIndex}
	progress, err := ongoing.Resume(ctx.Store(), start, func(current ongoing.MexOperations) bool {
		return current.ServiceIndex == serviceIndex
	})
	if err != nil {
		return "", err
	}

	pending := subscriber.PendingFeeUsers(serviceIndex)
	var (
		groups    []*feeGroup
		gathered  int
		processed []uint64
		loopErr   error
	)
	// pending users are taken from the end, so the set drains in place
	status := ongoing.RunWhileItHasGas(ctx, ongoing.GasToSaveProgress, gatherGas, func() ongoing.LoopOp {
		left, err := pending.Len(ctx.Store())
		if err != nil {
			loopErr = err
			return ongoing.Stop
		}
		if left == 0 {
			return ongoing.Stop
		}
		budget := ongoing.GasToSaveProgress +
			SwapGasPerToken*uint64(len(groups)+1) +
			LockGasPerUser*uint64(gathered+1)
		if ctx.GasLeft() <= budget {
			return ongoing.Interrupt
		}

		userID, _, err := pending.Get(ctx.Store(), left)
		if err != nil {
			loopErr = err
			return ongoing.Stop
		}
		fees, found, err := subscriber.TakeUserFees(ctx.Store(), serviceIndex, userID)
		if err != nil {
			loopErr = err
			return ongoing.Stop
		}
		if !found {
			if _, err := pending.SwapRemove(ctx.Store(), userID); err != nil {
				loopErr = err
				return ongoing.Stop
			}
			return ongoing.Continue
		}

		user, ok, err := users.GetAddress(userID)
		if err != nil {
			loopErr = err
			return ongoing.Stop
		}
		if !ok || fees.Fee.IsZero() {
			// the user left; the fee goes to the owner
			if err := subscriber.AddTotalFees(ctx.Store(), fees.Fee); err != nil {
				loopErr = err
				return ongoing.Stop
			}
			return ongoing.Continue
		}

		group := groupFor(&groups, fees.Fee)
		group.total = group.total.Add(fees.Fee.Amount)
		group.items = append(group.items, lockItem{userID: userID, user: user, amount: fees.Fee.Amount})
		gathered++
		processed = append(processed, userID)
		return ongoing.Continue
	})
	if loopErr != nil {
		return "", loopErr
	}

	bought := math.ZeroInt()
	for _, group := range groups {
		out, err := o.convert(ctx, percentages, group)
		if err != nil {
			return "", err
		}
		bought = bought.Add(out)
	}
	if len(groups) > 0 && !minAmountOut.IsNil() && bought.LT(minAmountOut) {
		return "", fmt.Errorf("%w: bought %s, expected at least %s", ErrSlippage, bought, minAmountOut)
	}

	if status == ongoing.StatusCompleted {
		ongoing.Clear(ctx.Store())
	} else if err := ongoing.Save(ctx.Store(), progress); err != nil {
		return "", err
	}

	o.logger.Debug("Mex operations run",
		zap.Uint32("service_index", serviceIndex),
		zap.Int("processed", len(processed)),
		zap.String("bought", bought.String()),
		zap.String("status", string(status)))

	ctx.Emit("mexOperation", mexOperationEvent{
		Caller:         ctx.Caller(),
		Epoch:          ctx.Epoch(),
		ServiceIndex:   serviceIndex,
		ProcessedUsers: processed,
		Bought:         bought,
		Status:         status,
	})
	return status, nil
}

func groupFor(groups *[]*feeGroup, fee models.Payment) *feeGroup {
	for _, g := range *groups {
		if g.token == fee.Token && g.nonce == fee.Nonce {
			return g
		}
	}
	g := &feeGroup{token: fee.Token, nonce: fee.Nonce, total: math.ZeroInt()}
	*groups = append(*groups, g)
	return g
}

// convert splits the fees of one token, swaps the sellable part once and
// locks every user's proportional share of the lock part. It returns the
// MEX bought.
func (o *Operations) convert(ctx *chain.Ctx, percentages Percentages, group *feeGroup) (math.Int, error) {
	amounts := percentages.Split(group.total)
	if amounts.Fees.IsPositive() {
		fees := models.NewPayment(group.token, group.nonce, amounts.Fees)
		if err := subscriber.AddTotalFees(ctx.Store(), fees); err != nil {
			return math.Int{}, err
		}
	}
	sell := amounts.Sell()
	if !sell.IsPositive() {
		return math.ZeroInt(), nil
	}

	bought, err := buyMex(ctx, group.token, sell, math.OneInt())
	if err != nil {
		return math.Int{}, err
	}
	toLock := percentages.LockShare(bought.Amount)
	if err := burnMex(ctx, bought.Amount.Sub(toLock)); err != nil {
		return math.Int{}, err
	}
	if !toLock.IsPositive() {
		return bought.Amount, nil
	}

	weights := make([]math.Int, len(group.items))
	for i, item := range group.items {
		weights[i] = item.amount
	}
	shares, err := SplitProportional(toLock, weights)
	if err != nil {
		return math.Int{}, err
	}
	for i, item := range group.items {
		if !shares[i].IsPositive() {
			continue
		}
		if err := lockFor(ctx, item.user, shares[i]); err != nil {
			return math.Int{}, fmt.Errorf("failed to lock for user %d: %w", item.userID, err)
		}
	}
	return bought.Amount, nil
}
