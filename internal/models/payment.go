package models

import (
	"fmt"
	"io"
	"math/big"
	"regexp"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/rlp"
)

// TokenID identifies a fungible or semi-fungible token, e.g. "USDC-c76f1f"
type TokenID string

var tokenIDPattern = regexp.MustCompile(`^[A-Z0-9]{3,10}-[a-f0-9]{6}$`)

// IsValid reports whether the identifier has the TICKER-random form
func (t TokenID) IsValid() bool {
	return tokenIDPattern.MatchString(string(t))
}

// Payment is an amount of one token (and nonce) moving between accounts
type Payment struct {
	Token  TokenID  `json:"token"`
	Nonce  uint64   `json:"nonce"`
	Amount math.Int `json:"amount"`
}

// NewPayment builds a payment
func NewPayment(token TokenID, nonce uint64, amount math.Int) Payment {
	return Payment{Token: token, Nonce: nonce, Amount: amount}
}

// IsZero reports whether the payment carries no value
func (p Payment) IsZero() bool {
	return p.Amount.IsNil() || p.Amount.IsZero()
}

// SameToken reports whether both payments refer to the same token and nonce
func (p Payment) SameToken(other Payment) bool {
	return p.Token == other.Token && p.Nonce == other.Nonce
}

func (p Payment) String() string {
	return fmt.Sprintf("%s-%d:%s", p.Token, p.Nonce, p.Amount)
}

type paymentRLP struct {
	Token  string
	Nonce  uint64
	Amount *big.Int
}

// EncodeRLP implements rlp.Encoder
func (p Payment) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, paymentRLP{
		Token:  string(p.Token),
		Nonce:  p.Nonce,
		Amount: IntToBig(p.Amount),
	})
}

// DecodeRLP implements rlp.Decoder
func (p *Payment) DecodeRLP(s *rlp.Stream) error {
	var raw paymentRLP
	if err := s.Decode(&raw); err != nil {
		return err
	}
	p.Token = TokenID(raw.Token)
	p.Nonce = raw.Nonce
	p.Amount = BigToInt(raw.Amount)
	return nil
}

// IntToBig converts an amount for encoding; nil amounts encode as zero
func IntToBig(i math.Int) *big.Int {
	if i.IsNil() {
		return new(big.Int)
	}
	return i.BigInt()
}

// BigToInt converts a decoded amount back, mapping nil to zero
func BigToInt(b *big.Int) math.Int {
	if b == nil {
		return math.ZeroInt()
	}
	return math.NewIntFromBigInt(b)
}

// OrZero replaces a nil amount with zero
func OrZero(i math.Int) math.Int {
	if i.IsNil() {
		return math.ZeroInt()
	}
	return i
}
