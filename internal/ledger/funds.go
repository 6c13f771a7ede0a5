// Package ledger keeps the per-user deposited funds of the subscription fee
// contract.
package ledger

import (
	"errors"
	"fmt"
	"slices"

	"cosmossdk.io/math"

	"subfee/internal/models"
)

var (
	// ErrInsufficientFunds is returned when the requested token is missing
	// or holds less than the requested amount
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoSuitableFunds is returned when no held token covers a stable value
	ErrNoSuitableFunds = errors.New("no suitable funds")
)

// Quoter converts an amount of one token into the equivalent amount of
// another
type Quoter interface {
	Quote(from models.TokenID, amount math.Int, to models.TokenID) (math.Int, error)
}

// QuoterFunc adapts a function to Quoter
type QuoterFunc func(from models.TokenID, amount math.Int, to models.TokenID) (math.Int, error)

// Quote implements Quoter
func (f QuoterFunc) Quote(from models.TokenID, amount math.Int, to models.TokenID) (math.Int, error) {
	return f(from, amount, to)
}

// Funds is an unordered collection of balances in which every token and
// nonce appears at most once. Storage order is insertion order.
type Funds []models.Payment

func (f Funds) find(token models.TokenID, nonce uint64) int {
	return slices.IndexFunc(f, func(p models.Payment) bool {
		return p.Token == token && p.Nonce == nonce
	})
}

// Balance returns the held amount of token
func (f Funds) Balance(token models.TokenID, nonce uint64) math.Int {
	if i := f.find(token, nonce); i >= 0 {
		return f[i].Amount
	}
	return math.ZeroInt()
}

// Add merges p into the matching entry or appends it
func (f *Funds) Add(p models.Payment) {
	if p.IsZero() {
		return
	}
	if i := f.find(p.Token, p.Nonce); i >= 0 {
		(*f)[i].Amount = (*f)[i].Amount.Add(p.Amount)
		return
	}
	*f = append(*f, p)
}

// DeductExact removes p. An entry that reaches zero is dropped.
func (f *Funds) DeductExact(p models.Payment) error {
	i := f.find(p.Token, p.Nonce)
	if i < 0 {
		return fmt.Errorf("%w: no %s held", ErrInsufficientFunds, p.Token)
	}
	if (*f)[i].Amount.LT(p.Amount) {
		return fmt.Errorf("%w: holds %s, needs %s", ErrInsufficientFunds, (*f)[i].Amount, p.Amount)
	}
	f.shrink(i, p.Amount)
	return nil
}

// DeductBestEffort debits the first entry, in storage order, whose value
// covers target units of the stable token. Entries that cannot be priced
// are passed over.
func (f *Funds) DeductBestEffort(q Quoter, stable models.TokenID, target math.Int) (models.Payment, error) {
	for i, held := range *f {
		needed := target
		if held.Token != stable {
			quoted, err := q.Quote(stable, target, held.Token)
			if err != nil {
				continue
			}
			needed = quoted
		}
		if needed.IsZero() || held.Amount.LT(needed) {
			continue
		}

		debited := models.NewPayment(held.Token, held.Nonce, needed)
		f.shrink(i, needed)
		return debited, nil
	}
	return models.Payment{}, fmt.Errorf("%w: worth %s %s", ErrNoSuitableFunds, target, stable)
}

// Withdraw removes every request that the funds can cover and returns what
// was removed. Requests for tokens not held, or larger than the held
// amount, are skipped.
func (f *Funds) Withdraw(requests []models.Payment) []models.Payment {
	var out []models.Payment
	for _, req := range requests {
		if req.IsZero() || req.Amount.IsNegative() {
			continue
		}
		i := f.find(req.Token, req.Nonce)
		if i < 0 || (*f)[i].Amount.LT(req.Amount) {
			continue
		}
		f.shrink(i, req.Amount)
		out = append(out, req)
	}
	return out
}

// TakeToken removes and returns the first entry of token, whatever its
// nonce
func (f *Funds) TakeToken(token models.TokenID) (models.Payment, bool) {
	i := slices.IndexFunc(*f, func(p models.Payment) bool { return p.Token == token })
	if i < 0 {
		return models.Payment{}, false
	}
	p := (*f)[i]
	*f = slices.Delete(*f, i, i+1)
	return p, true
}

func (f *Funds) shrink(i int, amount math.Int) {
	remaining := (*f)[i].Amount.Sub(amount)
	if remaining.IsZero() {
		*f = slices.Delete(*f, i, i+1)
		return
	}
	(*f)[i].Amount = remaining
}
