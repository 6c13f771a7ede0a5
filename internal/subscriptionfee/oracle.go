package subscriptionfee

import (
	"fmt"

	"cosmossdk.io/math"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/ledger"
	"subfee/internal/models"
	"subfee/internal/storage"
)

// PriceSource prices an amount of one side of a pair in the other side
type PriceSource interface {
	chain.Contract
	Price(ctx *chain.Ctx, token models.TokenID, amount math.Int) (math.Int, error)
}

// AddPair registers the pair trading token against the stable token. Owner
// endpoint.
func (c *Contract) AddPair(ctx *chain.Ctx, token models.TokenID, pair models.Address) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if !token.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	if !ctx.IsSmartContract(pair) {
		return fmt.Errorf("%w: pair %s", ErrNotSmartContract, pair)
	}
	return pairAddress(token).Set(ctx.Store(), pair)
}

// RemovePair is an owner endpoint
func (c *Contract) RemovePair(ctx *chain.Ctx, token models.TokenID) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	pairAddress(token).Clear(ctx.Store())
	return nil
}

// PairAddress returns the stable pair registered for token
func PairAddress(r storage.Reader, token models.TokenID) (models.Address, bool, error) {
	return pairAddress(token).Get(r)
}

// Quote converts amount of from into the equivalent amount of to. Tokens
// other than the stable token are routed through their stable pair.
func (c *Contract) Quote(ctx *chain.Ctx, from models.TokenID, amount math.Int, to models.TokenID) (math.Int, error) {
	if from == to || amount.IsZero() {
		return amount, nil
	}
	stable, err := c.stable(ctx)
	if err != nil {
		return math.Int{}, err
	}

	switch {
	case to == stable:
		return c.price(ctx, from, amount)
	case from == stable:
		return c.priceFromStable(ctx, to, amount)
	default:
		inStable, err := c.price(ctx, from, amount)
		if err != nil {
			return math.Int{}, err
		}
		return c.priceFromStable(ctx, to, inStable)
	}
}

func (c *Contract) quoter(ctx *chain.Ctx) ledger.Quoter {
	return ledger.QuoterFunc(func(from models.TokenID, amount math.Int, to models.TokenID) (math.Int, error) {
		return c.Quote(ctx, from, amount, to)
	})
}

// price returns the stable value of amount of token
func (c *Contract) price(ctx *chain.Ctx, token models.TokenID, amount math.Int) (math.Int, error) {
	return c.pairPrice(ctx, token, token, amount)
}

// priceFromStable returns how much of token is worth amount stable units
func (c *Contract) priceFromStable(ctx *chain.Ctx, token models.TokenID, amount math.Int) (math.Int, error) {
	stable, err := c.stable(ctx)
	if err != nil {
		return math.Int{}, err
	}
	return c.pairPrice(ctx, token, stable, amount)
}

func (c *Contract) pairPrice(ctx *chain.Ctx, pairToken, in models.TokenID, amount math.Int) (math.Int, error) {
	pair, ok, err := pairAddress(pairToken).Get(ctx.Store())
	if err != nil {
		return math.Int{}, err
	}
	if !ok {
		return math.Int{}, fmt.Errorf("%w: %s", ErrNoPair, pairToken)
	}

	var out math.Int
	err = chain.Invoke(ctx, pair, nil, func(p PriceSource, call *chain.Ctx) error {
		var priceErr error
		out, priceErr = p.Price(call, in, amount)
		return priceErr
	})
	return out, err
}
