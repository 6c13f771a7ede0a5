package ongoing

import (
	"testing"

	"cosmossdk.io/store/dbadapter"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"subfee/internal/models"
)

func newStore() dbadapter.Store {
	return dbadapter.Store{DB: dbm.NewMemDB()}
}

func TestLoadDefaultsToIdle(t *testing.T) {
	op, err := Load(newStore())
	require.NoError(t, err)
	require.Equal(t, KindIdle, op.Kind())
}

func TestCheckpointKindsDoNotCollide(t *testing.T) {
	s := newStore()

	batch := ServiceBatch{ServiceIndex: 2, Cursor: 7, AuxCursor: 3, StartedBy: models.Address{1}}
	require.NoError(t, Save(s, batch))
	op, err := Load(s)
	require.NoError(t, err)
	require.Equal(t, batch, op)

	mex := MexOperations{ServiceIndex: 2}
	require.NoError(t, Save(s, mex))
	op, err = Load(s)
	require.NoError(t, err)
	require.Equal(t, mex, op)

	require.NoError(t, Save(s, Idle{}))
	op, err = Load(s)
	require.NoError(t, err)
	require.Equal(t, Idle{}, op)
}

func TestResume(t *testing.T) {
	sameIndex := func(index uint32) func(ServiceBatch) bool {
		return func(current ServiceBatch) bool { return current.ServiceIndex == index }
	}

	t.Run("idle starts fresh", func(t *testing.T) {
		start := ServiceBatch{ServiceIndex: 1, Cursor: FirstIndex}
		op, err := Resume(newStore(), start, sameIndex(1))
		require.NoError(t, err)
		require.Equal(t, start, op)
	})

	t.Run("same index resumes", func(t *testing.T) {
		s := newStore()
		saved := ServiceBatch{ServiceIndex: 1, Cursor: 42, AuxCursor: 5}
		require.NoError(t, Save(s, saved))

		op, err := Resume(s, ServiceBatch{ServiceIndex: 1, Cursor: FirstIndex}, sameIndex(1))
		require.NoError(t, err)
		require.Equal(t, saved, op)
	})

	t.Run("different index conflicts", func(t *testing.T) {
		s := newStore()
		saved := ServiceBatch{ServiceIndex: 1, Cursor: 42}
		require.NoError(t, Save(s, saved))

		_, err := Resume(s, ServiceBatch{ServiceIndex: 2, Cursor: FirstIndex}, sameIndex(2))
		require.ErrorIs(t, err, ErrConflictingOperation)

		op, err := Load(s)
		require.NoError(t, err)
		require.Equal(t, saved, op)
	})

	t.Run("different kind conflicts", func(t *testing.T) {
		s := newStore()
		require.NoError(t, Save(s, MexOperations{ServiceIndex: 1}))

		_, err := Resume(s, ServiceBatch{ServiceIndex: 1, Cursor: FirstIndex}, sameIndex(1))
		require.ErrorIs(t, err, ErrConflictingOperation)
	})
}

type fakeMeter struct {
	left uint64
}

func (m *fakeMeter) GasLeft() uint64 { return m.left }

func TestRunWhileItHasGas(t *testing.T) {
	tests := []struct {
		name       string
		gas        uint64
		reserve    uint64
		estimate   uint64
		cost       uint64
		items      int
		wantStatus Status
		wantDone   int
	}{
		{name: "completes", gas: 1_000, reserve: 100, cost: 10, items: 5, wantStatus: StatusCompleted, wantDone: 5},
		{name: "interrupts before reserve", gas: 1_000, reserve: 100, cost: 100, items: 50, wantStatus: StatusInterrupted, wantDone: 8},
		{name: "no gas at start", gas: 100, reserve: 100, cost: 10, items: 5, wantStatus: StatusInterrupted, wantDone: 0},
		{name: "empty batch", gas: 1_000, reserve: 100, cost: 10, items: 0, wantStatus: StatusCompleted, wantDone: 0},
		{name: "estimate guards the first iteration", gas: 1_000, reserve: 100, estimate: 900, cost: 10, items: 5, wantStatus: StatusInterrupted, wantDone: 0},
		{name: "estimate bounds cheap iterations", gas: 1_000, reserve: 100, estimate: 300, cost: 10, items: 100, wantStatus: StatusInterrupted, wantDone: 60},
		{name: "costlier iterations raise the estimate", gas: 1_000, reserve: 100, estimate: 50, cost: 100, items: 50, wantStatus: StatusInterrupted, wantDone: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meter := &fakeMeter{left: tt.gas}
			done := 0
			status := RunWhileItHasGas(meter, tt.reserve, tt.estimate, func() LoopOp {
				if done == tt.items {
					return Stop
				}
				meter.left -= tt.cost
				done++
				return Continue
			})
			require.Equal(t, tt.wantStatus, status)
			require.Equal(t, tt.wantDone, done)
			require.GreaterOrEqual(t, meter.left, tt.reserve)
		})
	}
}

func TestRunWhileItHasGasInterrupt(t *testing.T) {
	meter := &fakeMeter{left: 1_000}
	calls := 0
	status := RunWhileItHasGas(meter, 100, 10, func() LoopOp {
		calls++
		meter.left -= 10
		if calls == 3 {
			return Interrupt
		}
		return Continue
	})
	require.Equal(t, StatusInterrupted, status)
	require.Equal(t, 3, calls)
}
