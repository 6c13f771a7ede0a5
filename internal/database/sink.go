package database

import (
	"context"
	"fmt"

	"subfee/internal/chain"
	"subfee/internal/models"
)

// EventJournal stores committed contract events
type EventJournal struct {
	db *DB
}

var _ chain.EventSink = (*EventJournal)(nil)

// NewEventJournal returns a sink writing to db
func NewEventJournal(db *DB) *EventJournal {
	return &EventJournal{db: db}
}

// HandleEvents implements chain.EventSink
func (j *EventJournal) HandleEvents(ctx context.Context, receipt *chain.Receipt) error {
	if err := j.db.InsertEvents(ctx, ToContractEvents(receipt)); err != nil {
		return fmt.Errorf("failed to journal events of %s: %w", receipt.TxHash, err)
	}
	return nil
}

// ToContractEvents maps the events of a receipt to journal rows
func ToContractEvents(receipt *chain.Receipt) []models.ContractEvent {
	out := make([]models.ContractEvent, 0, len(receipt.Events))
	for _, e := range receipt.Events {
		out = append(out, models.ContractEvent{
			TxHash:     e.TxHash,
			Contract:   e.Contract.String(),
			Identifier: e.Identifier,
			Epoch:      int64(e.Epoch),
			Data:       e.Data,
		})
	}
	return out
}
