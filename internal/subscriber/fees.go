package subscriber

import (
	"fmt"

	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/ledger"
	"subfee/internal/models"
	"subfee/internal/storage"
)

// UserFees is a charged fee not yet consumed by the service
type UserFees struct {
	Fee   models.Payment `json:"fee"`
	Epoch uint64         `json:"epoch"`
}

var totalFees = storage.NewValue[ledger.Funds]([]byte("totalFees"))

func userFees(serviceIndex uint32, userID uint64) storage.Value[UserFees] {
	return storage.NewValue[UserFees](storage.Key("userFees", storage.U32(serviceIndex), storage.U64(userID)))
}

// PendingFeeUsers is the set of users with an outstanding fee for the option
func PendingFeeUsers(serviceIndex uint32) storage.UnorderedSet[uint64] {
	return storage.NewUnorderedSet[uint64](storage.Key("pendingFeeUsers", storage.U32(serviceIndex)))
}

// PendingUserFees returns the outstanding fee of userID, if any
func PendingUserFees(r storage.Reader, serviceIndex uint32, userID uint64) (UserFees, bool, error) {
	return userFees(serviceIndex, userID).Get(r)
}

// TakeUserFees consumes the outstanding fee of userID
func TakeUserFees(s storage.Store, serviceIndex uint32, userID uint64) (UserFees, bool, error) {
	fees, ok, err := userFees(serviceIndex, userID).Take(s)
	if err != nil || !ok {
		return fees, ok, err
	}
	if _, err := PendingFeeUsers(serviceIndex).SwapRemove(s, userID); err != nil {
		return fees, false, err
	}
	return fees, true, nil
}

func recordUserFees(s storage.Store, serviceIndex uint32, userID uint64, fees UserFees) error {
	if err := userFees(serviceIndex, userID).Set(s, fees); err != nil {
		return err
	}
	_, err := PendingFeeUsers(serviceIndex).Insert(s, userID)
	return err
}

// AddTotalFees credits payments to the fees the owner can claim
func AddTotalFees(s storage.Store, payments ...models.Payment) error {
	funds, err := totalFees.GetOrDefault(s, nil)
	if err != nil {
		return err
	}
	for _, p := range payments {
		funds.Add(p)
	}
	return totalFees.Set(s, funds)
}

// TotalFees returns the fees the owner can claim
func TotalFees(r storage.Reader) (ledger.Funds, error) {
	return totalFees.GetOrDefault(r, nil)
}

// SubtractPayment charges userID through the fee contract and keeps the fee
// as the user's outstanding charge. Admin endpoint.
func (c *Contract) SubtractPayment(ctx *chain.Ctx, serviceIndex uint32, userID uint64) (models.Payment, error) {
	if err := access.RequireAdmin(ctx); err != nil {
		return models.Payment{}, err
	}
	if !userFees(serviceIndex, userID).IsEmpty(ctx.Store()) {
		return models.Payment{}, fmt.Errorf("%w: user %d", ErrFeesNotProcessed, userID)
	}

	payment, err := c.charge(ctx, serviceIndex, userID)
	if err != nil {
		return models.Payment{}, err
	}
	if err := recordUserFees(ctx.Store(), serviceIndex, userID, UserFees{Fee: payment, Epoch: ctx.Epoch()}); err != nil {
		return models.Payment{}, err
	}
	return payment, nil
}

// ChargeGas bounds the gas of charging one user at the fee contract
const ChargeGas uint64 = 120_000

func (c *Contract) charge(ctx *chain.Ctx, serviceIndex uint32, userID uint64) (models.Payment, error) {
	var payment models.Payment
	err := c.callFeeContract(ctx, func(fee FeeContract, call *chain.Ctx) error {
		var err error
		payment, err = fee.SubtractPayment(call, serviceIndex, userID)
		return err
	})
	return payment, err
}

// ClaimFees sends the accumulated fees to the owner. Owner endpoint.
func (c *Contract) ClaimFees(ctx *chain.Ctx) ([]models.Payment, error) {
	if err := access.RequireOwner(ctx); err != nil {
		return nil, err
	}
	funds, _, err := totalFees.Take(ctx.Store())
	if err != nil {
		return nil, err
	}
	if len(funds) == 0 {
		return nil, nil
	}
	if err := ctx.Send(ctx.Caller(), funds...); err != nil {
		return nil, err
	}

	c.logger.Info("Fees claimed",
		zap.String("owner", ctx.Caller().String()),
		zap.Int("tokens", len(funds)))

	return funds, nil
}
