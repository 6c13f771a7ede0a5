package models

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressHRP is the human readable part of the bech32 address form
const AddressHRP = "erd"

// AddressLength is the size of an account or contract address in bytes
const AddressLength = 32

// Address identifies an account or a contract on the chain
type Address [AddressLength]byte

// ZeroAddress is never assigned to an account
var ZeroAddress Address

// BytesToAddress copies b into an Address, left-padding short inputs
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// ParseAddress decodes the bech32 form of an address
func ParseAddress(s string) (Address, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("failed to decode address %q: %w", s, err)
	}
	if hrp != AddressHRP {
		return Address{}, fmt.Errorf("unexpected address prefix %q", hrp)
	}

	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("failed to convert address bits: %w", err)
	}
	if len(raw) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(raw))
	}

	return BytesToAddress(raw), nil
}

// Bytes returns a copy of the raw address bytes
func (a Address) Bytes() []byte {
	return bytes.Clone(a[:])
}

// IsZero reports whether a is the zero address
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String returns the bech32 form of the address
func (a Address) String() string {
	data, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		return fmt.Sprintf("%x", a[:])
	}
	encoded, err := bech32.Encode(AddressHRP, data)
	if err != nil {
		return fmt.Sprintf("%x", a[:])
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
