package subscriptionfee

import (
	"errors"
	"fmt"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/ledger"
	"subfee/internal/models"
	"subfee/internal/storage"
)

type subtractPaymentEvent struct {
	Service      models.Address `json:"service"`
	ServiceID    uint64         `json:"service_id"`
	ServiceIndex uint32         `json:"service_index"`
	UserID       uint64         `json:"user_id"`
	Payment      models.Payment `json:"payment"`
	NextEpoch    uint64         `json:"next_epoch"`
}

// SubtractPayment charges userID for the calling service's option at
// serviceIndex and sends the payment to the caller. Every refusal is an
// *AuthError and leaves state untouched.
func (c *Contract) SubtractPayment(ctx *chain.Ctx, serviceIndex uint32, userID uint64) (models.Payment, error) {
	s := ctx.Store()

	serviceID, err := ServiceIDs.GetID(s, ctx.Caller())
	if err != nil {
		return models.Payment{}, err
	}
	if serviceID == storage.NullID {
		return models.Payment{}, denied(fmt.Errorf("%w: %s", ErrCallerNotService, ctx.Caller()))
	}

	descriptors, err := ServiceDescriptors(s, serviceID)
	if err != nil {
		return models.Payment{}, err
	}
	if int(serviceIndex) >= len(descriptors) {
		return models.Payment{}, denied(fmt.Errorf("%w: %d", ErrInvalidServiceIndex, serviceIndex))
	}
	descriptor := descriptors[serviceIndex]

	subscribed, err := IsSubscribed(s, userID, serviceID, serviceIndex)
	if err != nil {
		return models.Payment{}, err
	}
	if !subscribed {
		return models.Payment{}, denied(fmt.Errorf("%w: user %d", ErrNotSubscribed, userID))
	}

	interval, err := Interval(s, descriptor, userID, serviceID, serviceIndex)
	if err != nil {
		return models.Payment{}, err
	}
	if interval == 0 {
		return models.Payment{}, denied(ErrInvalidInterval)
	}
	next, err := NextEligibleEpoch(s, descriptor, userID, serviceID, serviceIndex)
	if err != nil {
		return models.Payment{}, err
	}
	if ctx.Epoch() < next {
		return models.Payment{}, denied(fmt.Errorf("%w: next payment at epoch %d", ErrTooSoon, next))
	}

	user, ok, err := UserIDs.GetAddress(s, userID)
	if err != nil {
		return models.Payment{}, err
	}
	if !ok {
		return models.Payment{}, denied(fmt.Errorf("%w: %d", ErrUnknownUser, userID))
	}

	amount := descriptor.NormalAmount
	if descriptor.HasPremium() {
		premium, err := c.energyTier(ctx, user)
		if err != nil {
			return models.Payment{}, err
		}
		if premium {
			amount = descriptor.PremiumAmount
		}
	}

	payment, err := c.debit(ctx, userID, descriptor, amount)
	if err != nil {
		return models.Payment{}, err
	}

	if err := ctx.Send(ctx.Caller(), payment); err != nil {
		return models.Payment{}, err
	}
	nextEpoch := ctx.Epoch() + interval
	if err := NextPaymentEpoch(userID, serviceID, serviceIndex).Set(s, nextEpoch); err != nil {
		return models.Payment{}, err
	}

	c.logger.Debug("Payment subtracted",
		zap.Uint64("service_id", serviceID),
		zap.Uint32("service_index", serviceIndex),
		zap.Uint64("user_id", userID),
		zap.String("payment", payment.String()),
		zap.Uint64("next_epoch", nextEpoch))

	ctx.Emit("subtractPayment", subtractPaymentEvent{
		Service:      ctx.Caller(),
		ServiceID:    serviceID,
		ServiceIndex: serviceIndex,
		UserID:       userID,
		Payment:      payment,
		NextEpoch:    nextEpoch,
	})

	return payment, nil
}

// debit takes amount from the user's funds following the option's token
// policy
func (c *Contract) debit(ctx *chain.Ctx, userID uint64, d ServiceDescriptor, amount math.Int) (models.Payment, error) {
	s := ctx.Store()
	funds, err := UserDepositedFunds(userID).GetOrDefault(s, nil)
	if err != nil {
		return models.Payment{}, err
	}
	stable, err := c.stable(ctx)
	if err != nil {
		return models.Payment{}, err
	}

	var payment models.Payment
	switch {
	case d.AnyToken():
		payment, err = funds.DeductBestEffort(c.quoter(ctx), stable, amount)
	case d.AmountInStable:
		var needed math.Int
		needed, err = c.Quote(ctx, stable, amount, d.PaymentToken)
		if err != nil {
			return models.Payment{}, denied(err)
		}
		payment = models.NewPayment(d.PaymentToken, 0, needed)
		err = funds.DeductExact(payment)
	default:
		payment = models.NewPayment(d.PaymentToken, 0, amount)
		err = funds.DeductExact(payment)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrNoSuitableFunds) {
			err = fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
		return models.Payment{}, denied(err)
	}

	if err := UserDepositedFunds(userID).Set(s, funds); err != nil {
		return models.Payment{}, err
	}
	return payment, nil
}
