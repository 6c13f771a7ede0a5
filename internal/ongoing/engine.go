package ongoing

// GasToSaveProgress is the gas kept back from a batch loop to persist the
// checkpoint and pay out what the call accumulated
const GasToSaveProgress uint64 = 200_000

// LoopOp tells the engine whether to keep iterating
type LoopOp uint8

const (
	Continue LoopOp = iota
	Stop
	// Interrupt ends the loop early; the run reports StatusInterrupted
	Interrupt
)

// Status is the outcome of one gas-bounded run
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// GasMeter exposes the gas left in the running transaction
type GasMeter interface {
	GasLeft() uint64
}

// RunWhileItHasGas calls process until it returns Stop or Interrupt, or
// until the gas above reserve no longer covers one more iteration. The cost
// of an iteration starts at estimate and grows to the costliest one seen,
// and it is checked before every call to process, the first included. The
// reserve must cover persisting the checkpoint. It returns StatusCompleted
// only when process stopped on its own.
func RunWhileItHasGas(meter GasMeter, reserve, estimate uint64, process func() LoopOp) Status {
	perIteration := estimate
	before := meter.GasLeft()
	for {
		if before <= reserve || before-reserve <= perIteration {
			return StatusInterrupted
		}

		switch process() {
		case Stop:
			return StatusCompleted
		case Interrupt:
			return StatusInterrupted
		}

		after := meter.GasLeft()
		if before > after && before-after > perIteration {
			perIteration = before - after
		}
		before = after
	}
}
