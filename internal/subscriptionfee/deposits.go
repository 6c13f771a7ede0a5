package subscriptionfee

import (
	"fmt"

	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/ledger"
	"subfee/internal/models"
	"subfee/internal/storage"
)

type depositEvent struct {
	User    models.Address `json:"user"`
	UserID  uint64         `json:"user_id"`
	Payment models.Payment `json:"payment"`
}

type withdrawEvent struct {
	User     models.Address   `json:"user"`
	UserID   uint64           `json:"user_id"`
	Payments []models.Payment `json:"payments"`
}

// Deposit credits the single fungible payment attached to the call to the
// caller's funds
func (c *Contract) Deposit(ctx *chain.Ctx) error {
	payments := ctx.Payments()
	if len(payments) != 1 {
		return fmt.Errorf("%w: expected one payment, got %d", ErrInvalidPayment, len(payments))
	}
	payment := payments[0]
	if payment.Nonce != 0 || payment.IsZero() {
		return fmt.Errorf("%w: %s", ErrInvalidPayment, payment)
	}

	accepted, err := c.isAcceptedToken(ctx, payment.Token)
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("%w: %s", ErrInvalidToken, payment.Token)
	}

	stable, err := c.stable(ctx)
	if err != nil {
		return err
	}
	value, err := c.Quote(ctx, payment.Token, payment.Amount, stable)
	if err != nil {
		return err
	}
	minValue, err := minUserDepositValue.GetOrDefault(ctx.Store(), nil)
	if err != nil {
		return err
	}
	if !value.GT(models.BigToInt(minValue)) {
		return fmt.Errorf("%w: %s worth %s %s", ErrDepositTooSmall, payment, value, stable)
	}

	s := ctx.Store()
	userID, err := UserIDs.GetIDOrInsert(s, ctx.Caller())
	if err != nil {
		return err
	}
	funds, err := UserDepositedFunds(userID).GetOrDefault(s, nil)
	if err != nil {
		return err
	}
	funds.Add(payment)

	limit, err := maxUserDeposits.GetOrDefault(s, 0)
	if err != nil {
		return err
	}
	if uint64(len(funds)) > limit {
		return fmt.Errorf("%w: limit is %d", ErrTooManyDeposits, limit)
	}
	if err := UserDepositedFunds(userID).Set(s, funds); err != nil {
		return err
	}

	ctx.Emit("deposit", depositEvent{User: ctx.Caller(), UserID: userID, Payment: payment})
	return nil
}

// WithdrawFunds returns the requested payments to the caller. Requests the
// caller's funds cannot cover are skipped.
func (c *Contract) WithdrawFunds(ctx *chain.Ctx, requests []models.Payment) ([]models.Payment, error) {
	s := ctx.Store()
	userID, err := UserIDs.GetIDNonZero(s, ctx.Caller())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownUser, err)
	}

	funds, err := UserDepositedFunds(userID).GetOrDefault(s, nil)
	if err != nil {
		return nil, err
	}
	out := funds.Withdraw(requests)
	if len(out) == 0 {
		return nil, nil
	}

	if err := UserDepositedFunds(userID).Set(s, funds); err != nil {
		return nil, err
	}
	if err := ctx.Send(ctx.Caller(), out...); err != nil {
		return nil, err
	}

	c.logger.Debug("Funds withdrawn",
		zap.Uint64("user_id", userID),
		zap.Int("requested", len(requests)),
		zap.Int("sent", len(out)))

	ctx.Emit("withdraw", withdrawEvent{User: ctx.Caller(), UserID: userID, Payments: out})
	return out, nil
}

// UserFunds returns the deposits of userID as read through r
func UserFunds(r storage.Reader, userID uint64) (ledger.Funds, error) {
	return UserDepositedFunds(userID).GetOrDefault(r, nil)
}
