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

// PairName identifies pair contracts
const PairName = "pair"

const (
	swapFeeNumerator   = 997
	swapFeeDenominator = 1000
)

var (
	firstToken  = storage.NewValue[models.TokenID]([]byte("firstTokenId"))
	secondToken = storage.NewValue[models.TokenID]([]byte("secondTokenId"))
)

func reserve(token models.TokenID) storage.Value[*big.Int] {
	return amountValue("reserve", []byte(token))
}

type swapEvent struct {
	Caller models.Address `json:"caller"`
	In     models.Payment `json:"in"`
	Out    models.Payment `json:"out"`
}

// Pair is a constant-product pool of two tokens with a 0.3% swap fee
type Pair struct {
	logger *zap.Logger
}

// NewPair returns a pair contract
func NewPair(logger *zap.Logger) *Pair {
	return &Pair{logger: logger.Named("pair")}
}

// Name implements chain.Contract
func (p *Pair) Name() string { return PairName }

// Init sets the two traded tokens
func (p *Pair) Init(ctx *chain.Ctx, owner models.Address, first, second models.TokenID) error {
	if !first.IsValid() || !second.IsValid() || first == second {
		return fmt.Errorf("%w: %q/%q", ErrInvalidToken, first, second)
	}
	if err := access.Init(ctx, owner); err != nil {
		return err
	}
	if err := firstToken.Set(ctx.Store(), first); err != nil {
		return err
	}
	return secondToken.Set(ctx.Store(), second)
}

// Tokens returns the traded tokens
func (p *Pair) Tokens(r storage.Reader) (models.TokenID, models.TokenID, error) {
	first, ok, err := firstToken.Get(r)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("%w: pair is not initialized", ErrInvalidToken)
	}
	second, _, err := secondToken.Get(r)
	return first, second, err
}

func (p *Pair) counterpart(r storage.Reader, token models.TokenID) (models.TokenID, error) {
	first, second, err := p.Tokens(r)
	if err != nil {
		return "", err
	}
	switch token {
	case first:
		return second, nil
	case second:
		return first, nil
	default:
		return "", fmt.Errorf("%w: %s is not traded by the pair", ErrInvalidToken, token)
	}
}

// Reserves returns the pooled amounts of the first and second token
func (p *Pair) Reserves(r storage.Reader) (math.Int, math.Int, error) {
	first, second, err := p.Tokens(r)
	if err != nil {
		return math.Int{}, math.Int{}, err
	}
	a, err := readAmount(r, reserve(first))
	if err != nil {
		return math.Int{}, math.Int{}, err
	}
	b, err := readAmount(r, reserve(second))
	return a, b, err
}

// AddLiquidity adds the attached payments of either token to the pool
func (p *Pair) AddLiquidity(ctx *chain.Ctx) error {
	payments := ctx.Payments()
	if len(payments) == 0 {
		return ErrInvalidPayment
	}
	for _, payment := range payments {
		if _, err := p.counterpart(ctx.Store(), payment.Token); err != nil {
			return err
		}
		if payment.Nonce != 0 || payment.IsZero() {
			return fmt.Errorf("%w: %s", ErrInvalidPayment, payment)
		}
		current, err := readAmount(ctx.Store(), reserve(payment.Token))
		if err != nil {
			return err
		}
		if err := writeAmount(ctx.Store(), reserve(payment.Token), current.Add(payment.Amount)); err != nil {
			return err
		}
	}
	return nil
}

// Price returns what amount of token is worth in the other token at the
// current reserves, without fees or price impact
func (p *Pair) Price(ctx *chain.Ctx, token models.TokenID, amount math.Int) (math.Int, error) {
	out, err := p.counterpart(ctx.Store(), token)
	if err != nil {
		return math.Int{}, err
	}
	reserveIn, err := readAmount(ctx.Store(), reserve(token))
	if err != nil {
		return math.Int{}, err
	}
	reserveOut, err := readAmount(ctx.Store(), reserve(out))
	if err != nil {
		return math.Int{}, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return math.Int{}, ErrNoLiquidity
	}
	return amount.Mul(reserveOut).Quo(reserveIn), nil
}

// AmountOut is the constant-product output of swapping amountIn
func AmountOut(amountIn, reserveIn, reserveOut math.Int) math.Int {
	inWithFee := amountIn.MulRaw(swapFeeNumerator)
	numerator := inWithFee.Mul(reserveOut)
	denominator := reserveIn.MulRaw(swapFeeDenominator).Add(inWithFee)
	return numerator.Quo(denominator)
}

// SwapFixedInput swaps the attached payment for tokenOut and sends the
// output to the caller
func (p *Pair) SwapFixedInput(ctx *chain.Ctx, tokenOut models.TokenID, minAmountOut math.Int) (models.Payment, error) {
	in, err := singlePayment(ctx.Payments())
	if err != nil {
		return models.Payment{}, err
	}
	counterpart, err := p.counterpart(ctx.Store(), in.Token)
	if err != nil {
		return models.Payment{}, err
	}
	if counterpart != tokenOut {
		return models.Payment{}, fmt.Errorf("%w: cannot swap %s for %s", ErrInvalidToken, in.Token, tokenOut)
	}

	s := ctx.Store()
	reserveIn, err := readAmount(s, reserve(in.Token))
	if err != nil {
		return models.Payment{}, err
	}
	reserveOut, err := readAmount(s, reserve(tokenOut))
	if err != nil {
		return models.Payment{}, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return models.Payment{}, ErrNoLiquidity
	}

	amountOut := AmountOut(in.Amount, reserveIn, reserveOut)
	if amountOut.IsZero() || (!minAmountOut.IsNil() && amountOut.LT(minAmountOut)) {
		return models.Payment{}, fmt.Errorf("%w: got %s", ErrSlippage, amountOut)
	}

	if err := writeAmount(s, reserve(in.Token), reserveIn.Add(in.Amount)); err != nil {
		return models.Payment{}, err
	}
	if err := writeAmount(s, reserve(tokenOut), reserveOut.Sub(amountOut)); err != nil {
		return models.Payment{}, err
	}

	out := models.NewPayment(tokenOut, 0, amountOut)
	if err := ctx.Send(ctx.Caller(), out); err != nil {
		return models.Payment{}, err
	}

	p.logger.Debug("Swap",
		zap.String("in", in.String()),
		zap.String("out", out.String()))

	ctx.Emit("swap", swapEvent{Caller: ctx.Caller(), In: in, Out: out})
	return out, nil
}
