// Package external holds simplified versions of the contracts the
// subscriber services talk to: a constant-product pair, an energy factory,
// a farm and a metabonding distributor. The devnet node and the tests
// deploy them next to the fee contract.
package external

import (
	"errors"
	"math/big"

	"cosmossdk.io/math"

	"subfee/internal/models"
	"subfee/internal/storage"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidPayment   = errors.New("invalid payment")
	ErrNoLiquidity      = errors.New("pair has no liquidity")
	ErrSlippage         = errors.New("output amount below minimum")
	ErrClaimNotAllowed  = errors.New("user does not allow external claims")
	ErrInvalidSignature = errors.New("invalid claim signature")
	ErrAlreadyClaimed   = errors.New("rewards already claimed")
	ErrUnknownWeek      = errors.New("no rewards for week")
)

func amountValue(tag string, parts ...[]byte) storage.Value[*big.Int] {
	return storage.NewValue[*big.Int](storage.Key(tag, parts...))
}

func readAmount(r storage.Reader, v storage.Value[*big.Int]) (math.Int, error) {
	b, err := v.GetOrDefault(r, nil)
	if err != nil {
		return math.Int{}, err
	}
	return models.BigToInt(b), nil
}

func writeAmount(s storage.Store, v storage.Value[*big.Int], amount math.Int) error {
	return v.Set(s, models.IntToBig(amount))
}

func singlePayment(payments []models.Payment) (models.Payment, error) {
	if len(payments) != 1 || payments[0].IsZero() {
		return models.Payment{}, ErrInvalidPayment
	}
	return payments[0], nil
}
