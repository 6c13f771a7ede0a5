package subscriber

import (
	"fmt"

	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/ledger"
	"subfee/internal/models"
	"subfee/internal/ongoing"
	"subfee/internal/storage"
	"subfee/internal/subscriptionfee"
)

type performServiceEvent struct {
	Caller         models.Address   `json:"caller"`
	Epoch          uint64           `json:"epoch"`
	ServiceIndex   uint32           `json:"service_index"`
	ProcessedUsers []uint64         `json:"processed_users"`
	Payout         []models.Payment `json:"payout"`
	Status         ongoing.Status   `json:"status"`
}

// batch is the in-memory state of one PerformService call
type batch struct {
	feeAddr     models.Address
	fee         storage.Reader
	serviceID   uint64
	index       uint32
	descriptor  subscriptionfee.ServiceDescriptor
	subscribers storage.UnorderedSet[uint64]
	total       uint64
	auxArgs     [][]byte

	progress  ongoing.ServiceBatch
	payout    ledger.Funds
	processed []uint64
}

// PerformService charges the subscribers of the option at serviceIndex and
// runs the strategy for each of them, for as long as the gas allows. An
// interrupted batch keeps its checkpoint and is resumed by calling again
// with the same index; no other batch can start until it completes.
//
// auxArgs, when given, holds one argument per visited subscriber for the
// whole batch and bounds it. Admin endpoint.
func (c *Contract) PerformService(ctx *chain.Ctx, serviceIndex uint32, auxArgs [][]byte) (ongoing.Status, error) {
	if err := access.RequireAdmin(ctx); err != nil {
		return "", err
	}

	b, err := c.loadBatch(ctx, serviceIndex, auxArgs)
	if err != nil {
		return "", err
	}

	var loopErr error
	estimate := ChargeGas + c.strategy.GasPerUser()
	status := ongoing.RunWhileItHasGas(ctx, ongoing.GasToSaveProgress, estimate, func() ongoing.LoopOp {
		if b.progress.Cursor > b.total {
			return ongoing.Stop
		}
		if len(b.auxArgs) > 0 && b.progress.AuxCursor >= uint64(len(b.auxArgs)) {
			return ongoing.Stop
		}

		userID, ok, err := b.subscribers.Get(b.fee, b.progress.Cursor)
		if err != nil {
			loopErr = err
			return ongoing.Stop
		}
		var arg []byte
		if len(b.auxArgs) > 0 {
			arg = b.auxArgs[b.progress.AuxCursor]
			b.progress.AuxCursor++
		}
		b.progress.Cursor++

		if ok {
			if err := c.serveUser(ctx, b, userID, arg); err != nil {
				loopErr = err
				return ongoing.Stop
			}
		}
		return ongoing.Continue
	})
	if loopErr != nil {
		return "", loopErr
	}

	if status == ongoing.StatusCompleted {
		ongoing.Clear(ctx.Store())
	} else if err := ongoing.Save(ctx.Store(), b.progress); err != nil {
		return "", err
	}

	if err := ctx.Send(ctx.Caller(), b.payout...); err != nil {
		return "", err
	}

	c.logger.Debug("Service batch run",
		zap.Uint32("service_index", serviceIndex),
		zap.Uint64("cursor", b.progress.Cursor),
		zap.Uint64("subscribers", b.total),
		zap.Int("processed", len(b.processed)),
		zap.String("status", string(status)))

	ctx.Emit("performService", performServiceEvent{
		Caller:         ctx.Caller(),
		Epoch:          ctx.Epoch(),
		ServiceIndex:   serviceIndex,
		ProcessedUsers: b.processed,
		Payout:         b.payout,
		Status:         status,
	})

	return status, nil
}

func (c *Contract) loadBatch(ctx *chain.Ctx, serviceIndex uint32, auxArgs [][]byte) (*batch, error) {
	feeAddr, err := FeeContractAddress(ctx.Store())
	if err != nil {
		return nil, err
	}
	fee := ctx.Remote(feeAddr)

	serviceID, err := ServiceID(ctx)
	if err != nil {
		return nil, err
	}
	descriptors, err := subscriptionfee.ServiceDescriptors(fee, serviceID)
	if err != nil {
		return nil, err
	}
	if int(serviceIndex) >= len(descriptors) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidServiceIndex, serviceIndex)
	}

	start := ongoing.ServiceBatch{
		ServiceIndex: serviceIndex,
		Cursor:       ongoing.FirstIndex,
		StartedBy:    ctx.Caller(),
	}
	progress, err := ongoing.Resume(ctx.Store(), start, func(current ongoing.ServiceBatch) bool {
		return current.ServiceIndex == serviceIndex
	})
	if err != nil {
		return nil, err
	}

	subscribers := subscriptionfee.Subscribers(serviceID, serviceIndex)
	total, err := subscribers.Len(fee)
	if err != nil {
		return nil, err
	}

	return &batch{
		feeAddr:     feeAddr,
		fee:         fee,
		serviceID:   serviceID,
		index:       serviceIndex,
		descriptor:  descriptors[serviceIndex],
		subscribers: subscribers,
		total:       total,
		auxArgs:     auxArgs,
		progress:    progress,
	}, nil
}

// serveUser charges one subscriber and runs the strategy. Users that
// cannot be served are skipped; only storage failures abort the batch.
func (c *Contract) serveUser(ctx *chain.Ctx, b *batch, userID uint64, arg []byte) error {
	user, ok, err := subscriptionfee.UserIDs.At(b.fee).GetAddress(userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	due, err := subscriptionfee.PaymentDue(b.fee, ctx.Epoch(), userID, b.serviceID, b.index)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}
	if !userFees(b.index, userID).IsEmpty(ctx.Store()) {
		return nil
	}

	fee, err := c.charge(ctx, b.index, userID)
	if err != nil {
		c.logger.Debug("Skipping user",
			zap.Uint64("user_id", userID),
			zap.Error(err))
		return nil
	}
	b.processed = append(b.processed, userID)

	req := ActionRequest{
		UserID:       userID,
		User:         user,
		ServiceIndex: b.index,
		Service:      b.descriptor,
		Fee:          fee,
		Arg:          arg,
	}
	var result ActionResult
	err = ctx.Sandbox(func(sub *chain.Ctx) error {
		if token := b.descriptor.EndpointPayment; token != "" {
			payment, err := takeEndpointPayment(sub.Store(), userID, token)
			if err != nil {
				return err
			}
			req.Payment = payment
		}
		var actionErr error
		result, actionErr = c.strategy.PerformAction(sub, req)
		return actionErr
	})
	if err != nil {
		c.logger.Debug("Strategy failed, keeping fee",
			zap.Uint64("user_id", userID),
			zap.Error(err))
		result = ActionResult{Fee: FeeToCaller}
	}

	switch result.Fee {
	case FeePending:
		if err := recordUserFees(ctx.Store(), b.index, userID, UserFees{Fee: fee, Epoch: ctx.Epoch()}); err != nil {
			return err
		}
	case FeeConsumed:
	default:
		b.payout.Add(fee)
	}
	for _, reward := range result.Rewards {
		b.payout.Add(reward)
	}
	return nil
}
