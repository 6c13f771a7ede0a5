// Package ongoing persists the checkpoint of resumable batch operations and
// drives their gas-bounded loops.
package ongoing

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"subfee/internal/models"
	"subfee/internal/storage"
)

// FirstIndex is the first position of the 1-based subscriber sets
const FirstIndex uint64 = 1

// ErrConflictingOperation is returned when a call would start or resume an
// operation other than the one in flight
var ErrConflictingOperation = errors.New("another operation is in progress")

var progressKey = []byte("currentOngoingOperation")

// Kind tags the stored checkpoint
type Kind uint8

const (
	KindIdle Kind = iota
	KindServiceBatch
	KindMexOperations
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindServiceBatch:
		return "service_batch"
	case KindMexOperations:
		return "mex_operations"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Operation is the checkpoint of the in-flight operation
type Operation interface {
	Kind() Kind
}

// Idle means no operation is in flight
type Idle struct{}

// Kind implements Operation
func (Idle) Kind() Kind { return KindIdle }

// ServiceBatch is the checkpoint of a perform-service batch
type ServiceBatch struct {
	ServiceIndex uint32
	Cursor       uint64
	AuxCursor    uint64
	StartedBy    models.Address
}

// Kind implements Operation
func (ServiceBatch) Kind() Kind { return KindServiceBatch }

// MexOperations is the checkpoint of a MEX conversion batch
type MexOperations struct {
	ServiceIndex uint32
}

// Kind implements Operation
func (MexOperations) Kind() Kind { return KindMexOperations }

// Load returns the stored checkpoint, or Idle
func Load(r storage.Reader) (Operation, error) {
	raw := r.Get(progressKey)
	if len(raw) == 0 {
		return Idle{}, nil
	}

	kind, payload := Kind(raw[0]), raw[1:]
	switch kind {
	case KindServiceBatch:
		var op ServiceBatch
		if err := rlp.DecodeBytes(payload, &op); err != nil {
			return nil, fmt.Errorf("failed to decode %s checkpoint: %w", kind, err)
		}
		return op, nil
	case KindMexOperations:
		var op MexOperations
		if err := rlp.DecodeBytes(payload, &op); err != nil {
			return nil, fmt.Errorf("failed to decode %s checkpoint: %w", kind, err)
		}
		return op, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint kind %s", kind)
	}
}

// Save persists op. Saving Idle clears the checkpoint.
func Save(s storage.Store, op Operation) error {
	if op.Kind() == KindIdle {
		Clear(s)
		return nil
	}

	payload, err := rlp.EncodeToBytes(op)
	if err != nil {
		return fmt.Errorf("failed to encode %s checkpoint: %w", op.Kind(), err)
	}
	s.Set(progressKey, append([]byte{byte(op.Kind())}, payload...))
	return nil
}

// Clear returns the engine to Idle
func Clear(s storage.Store) {
	s.Delete(progressKey)
}

// Resume returns the in-flight checkpoint when it is a T accepted by same,
// start when the engine is idle, and ErrConflictingOperation otherwise.
func Resume[T Operation](r storage.Reader, start T, same func(current T) bool) (T, error) {
	current, err := Load(r)
	if err != nil {
		return start, err
	}
	if current.Kind() == KindIdle {
		return start, nil
	}

	op, ok := current.(T)
	if !ok || !same(op) {
		return start, fmt.Errorf("%w: %s", ErrConflictingOperation, current.Kind())
	}
	return op, nil
}
