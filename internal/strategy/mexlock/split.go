package mexlock

import (
	"errors"
	"fmt"

	"cosmossdk.io/math"
)

// TotalPercentage is 100% in basis points
const TotalPercentage uint32 = 10_000

var (
	ErrInvalidPercentages = errors.New("percentages must add up to 10000")
	ErrZeroWeights        = errors.New("weights add up to zero")
)

// Percentages divides a fee into the part locked for the user, the part
// kept as protocol fees and the part burned, in basis points
type Percentages struct {
	Lock uint32 `json:"lock"`
	Fees uint32 `json:"fees"`
	Burn uint32 `json:"burn"`
}

// Validate checks that the three parts add up to exactly 100%
func (p Percentages) Validate() error {
	if p.Lock > TotalPercentage || p.Fees > TotalPercentage || p.Burn > TotalPercentage {
		return fmt.Errorf("%w: %+v", ErrInvalidPercentages, p)
	}
	if p.Lock+p.Fees+p.Burn != TotalPercentage {
		return fmt.Errorf("%w: %+v", ErrInvalidPercentages, p)
	}
	return nil
}

// Amounts is a fee divided by Percentages
type Amounts struct {
	Lock math.Int
	Fees math.Int
	Burn math.Int
}

// Sell is the part of the fee converted to MEX
func (a Amounts) Sell() math.Int {
	return a.Lock.Add(a.Burn)
}

// Split divides total. The burn part takes the rounding remainder so the
// parts always add up to total.
func (p Percentages) Split(total math.Int) Amounts {
	lock := total.MulRaw(int64(p.Lock)).QuoRaw(int64(TotalPercentage))
	fees := total.MulRaw(int64(p.Fees)).QuoRaw(int64(TotalPercentage))
	return Amounts{
		Lock: lock,
		Fees: fees,
		Burn: total.Sub(lock).Sub(fees),
	}
}

// LockShare returns the part of bought MEX to lock; the rest is burned
func (p Percentages) LockShare(bought math.Int) math.Int {
	sellable := p.Lock + p.Burn
	if sellable == 0 {
		return math.ZeroInt()
	}
	return bought.MulRaw(int64(p.Lock)).QuoRaw(int64(sellable))
}

// SplitProportional divides total among weights. Every share but the last
// is floor(total * w / sum); the last gets the exact remainder, so the
// shares always add up to total.
func SplitProportional(total math.Int, weights []math.Int) ([]math.Int, error) {
	if len(weights) == 0 {
		return nil, nil
	}
	sum := math.ZeroInt()
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return nil, ErrZeroWeights
	}

	shares := make([]math.Int, len(weights))
	distributed := math.ZeroInt()
	last := len(weights) - 1
	for i, w := range weights[:last] {
		shares[i] = total.Mul(w).Quo(sum)
		distributed = distributed.Add(shares[i])
	}
	shares[last] = total.Sub(distributed)
	return shares, nil
}
