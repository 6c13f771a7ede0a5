package models

import (
	"encoding/json"
	"time"
)

// Epoch is the chain's coarse time unit
type Epoch = uint64

// RunStatus represents the state of a batch run driven by the worker
type RunStatus string

const (
	RunStatusRunning     RunStatus = "RUNNING"
	RunStatusInterrupted RunStatus = "INTERRUPTED"
	RunStatusCompleted   RunStatus = "COMPLETED"
	RunStatusFailed      RunStatus = "FAILED"
)

// OperationKind represents which batch endpoint a run drives
type OperationKind string

const (
	OperationKindPerformService OperationKind = "perform_service"
	OperationKindMexOperations  OperationKind = "mex_operations"
)

// OperationRun is one worker-driven batch, possibly spanning several transactions
type OperationRun struct {
	ID           string        `db:"id" json:"id"`
	Subscriber   string        `db:"subscriber" json:"subscriber"`
	Kind         OperationKind `db:"kind" json:"kind"`
	ServiceIndex int64         `db:"service_index" json:"service_index"`
	Status       RunStatus     `db:"status" json:"status"`
	Calls        int           `db:"calls" json:"calls"`
	GasUsed      int64         `db:"gas_used" json:"gas_used"`
	LastTxHash   *string       `db:"last_tx_hash" json:"last_tx_hash"`
	ErrorMessage *string       `db:"error_message" json:"error,omitempty"`
	RetryCount   int           `db:"retry_count" json:"retry_count"`
	StartedAt    time.Time     `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time    `db:"finished_at" json:"finished_at"`
}

// ContractEvent is a committed contract event as stored in the journal
type ContractEvent struct {
	ID         int64           `db:"id" json:"id"`
	TxHash     string          `db:"tx_hash" json:"tx_hash"`
	Contract   string          `db:"contract" json:"contract"`
	Identifier string          `db:"identifier" json:"identifier"`
	Epoch      int64           `db:"epoch" json:"epoch"`
	Data       json.RawMessage `db:"data" json:"data"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
