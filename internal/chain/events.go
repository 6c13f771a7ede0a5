package chain

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"subfee/internal/models"
)

// Event is emitted by a contract and published once its transaction commits
type Event struct {
	TxHash     string          `json:"tx_hash"`
	Contract   models.Address  `json:"contract"`
	Identifier string          `json:"identifier"`
	Epoch      uint64          `json:"epoch"`
	Data       json.RawMessage `json:"data"`
}

// EventSink consumes the events of committed transactions
type EventSink interface {
	HandleEvents(ctx context.Context, receipt *Receipt) error
}

// Emit records an event for the executing contract. Events of calls that
// revert are dropped with them.
func (c *Ctx) Emit(identifier string, data any) {
	c.ConsumeGas(EventCost, "event")

	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Error("Failed to encode event data",
			zap.String("identifier", identifier),
			zap.Error(err))
		raw = json.RawMessage("null")
	}

	c.events = append(c.events, Event{
		TxHash:     c.txHash,
		Contract:   c.self,
		Identifier: identifier,
		Epoch:      c.epoch,
		Data:       raw,
	})
}
