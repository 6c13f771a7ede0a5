package subscriber

import (
	"fmt"

	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/ledger"
	"subfee/internal/models"
	"subfee/internal/storage"
	"subfee/internal/subscriptionfee"
)

var acceptedUserTokens = storage.NewUnorderedSet[models.TokenID]([]byte("acceptedUserTokens"))

// UserTokens holds the tokens a user deposited at the service for its
// strategy to spend
func UserTokens(userID uint64) storage.Value[ledger.Funds] {
	return storage.NewValue[ledger.Funds](storage.Key("userDepositedTokens", storage.U64(userID)))
}

type userTokensEvent struct {
	User     models.Address   `json:"user"`
	UserID   uint64           `json:"user_id"`
	Payments []models.Payment `json:"payments"`
}

// AddAcceptedUserTokens is an owner endpoint
func (c *Contract) AddAcceptedUserTokens(ctx *chain.Ctx, tokens []models.TokenID) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	for _, token := range tokens {
		if !token.IsValid() {
			return fmt.Errorf("%w: %q", ErrTokenNotAccepted, token)
		}
		if _, err := acceptedUserTokens.Insert(ctx.Store(), token); err != nil {
			return err
		}
	}
	return nil
}

// AcceptedUserTokens lists the tokens users may deposit
func AcceptedUserTokens(r storage.Reader) ([]models.TokenID, error) {
	return acceptedUserTokens.Items(r)
}

// DepositTokens credits the single payment attached to the call to the
// caller's tokens. The caller must already be known to the fee contract.
func (c *Contract) DepositTokens(ctx *chain.Ctx) error {
	payments := ctx.Payments()
	if len(payments) != 1 {
		return fmt.Errorf("%w: expected one payment, got %d", ErrInvalidDeposit, len(payments))
	}
	payment := payments[0]
	if payment.IsZero() {
		return fmt.Errorf("%w: %s", ErrInvalidDeposit, payment)
	}

	s := ctx.Store()
	accepted, err := acceptedUserTokens.Contains(s, payment.Token)
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("%w: %s", ErrTokenNotAccepted, payment.Token)
	}

	userID, err := c.callerID(ctx)
	if err != nil {
		return err
	}
	tokens, err := UserTokens(userID).GetOrDefault(s, nil)
	if err != nil {
		return err
	}
	tokens.Add(payment)
	if err := UserTokens(userID).Set(s, tokens); err != nil {
		return err
	}

	ctx.Emit("depositTokens", userTokensEvent{User: ctx.Caller(), UserID: userID, Payments: payments})
	return nil
}

// WithdrawTokens returns the requested tokens to the caller. Requests the
// caller's tokens cannot cover are skipped.
func (c *Contract) WithdrawTokens(ctx *chain.Ctx, requests []models.Payment) ([]models.Payment, error) {
	userID, err := c.callerID(ctx)
	if err != nil {
		return nil, err
	}

	s := ctx.Store()
	tokens, err := UserTokens(userID).GetOrDefault(s, nil)
	if err != nil {
		return nil, err
	}
	out := tokens.Withdraw(requests)
	if len(out) == 0 {
		return nil, nil
	}
	if err := UserTokens(userID).Set(s, tokens); err != nil {
		return nil, err
	}
	if err := ctx.Send(ctx.Caller(), out...); err != nil {
		return nil, err
	}

	c.logger.Debug("Tokens withdrawn",
		zap.Uint64("user_id", userID),
		zap.Int("requested", len(requests)),
		zap.Int("sent", len(out)))

	ctx.Emit("withdrawTokens", userTokensEvent{User: ctx.Caller(), UserID: userID, Payments: out})
	return out, nil
}

func (c *Contract) callerID(ctx *chain.Ctx) (uint64, error) {
	feeAddr, err := FeeContractAddress(ctx.Store())
	if err != nil {
		return 0, err
	}
	userID, err := subscriptionfee.UserIDs.At(ctx.Remote(feeAddr)).GetIDNonZero(ctx.Caller())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnknownUser, err)
	}
	return userID, nil
}

// takeEndpointPayment removes the user's whole entry of token
func takeEndpointPayment(s storage.Store, userID uint64, token models.TokenID) (models.Payment, error) {
	tokens, err := UserTokens(userID).GetOrDefault(s, nil)
	if err != nil {
		return models.Payment{}, err
	}
	payment, ok := tokens.TakeToken(token)
	if !ok {
		return models.Payment{}, fmt.Errorf("%w: %s", ErrNoEndpointPayment, token)
	}
	if err := UserTokens(userID).Set(s, tokens); err != nil {
		return models.Payment{}, err
	}
	return payment, nil
}
