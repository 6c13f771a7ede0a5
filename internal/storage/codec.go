package storage

import (
	"encoding/binary"
	"fmt"

	storetypes "cosmossdk.io/store/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// Reader is the read side of a key-value namespace. Foreign contract
// namespaces are only ever exposed through it.
type Reader interface {
	Get(key []byte) []byte
	Has(key []byte) bool
}

// Store is a writable key-value namespace
type Store = storetypes.KVStore

// Key joins a fixed tag with the natural key parts of an entity
func Key(tag string, parts ...[]byte) []byte {
	size := len(tag)
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	key = append(key, tag...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// U64 encodes v as a big-endian key part
func U64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// U32 encodes v as a big-endian key part
func U32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Encode serializes a stored value
func Encode(v any) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return b, nil
}

// Decode deserializes a stored value
func Decode[T any](b []byte) (T, error) {
	var v T
	if err := rlp.DecodeBytes(b, &v); err != nil {
		return v, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return v, nil
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid u64 value length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
