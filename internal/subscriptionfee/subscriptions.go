package subscriptionfee

import (
	"fmt"

	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
)

type subscriptionEvent struct {
	User          models.Address `json:"user"`
	UserID        uint64         `json:"user_id"`
	Subscriptions []ServiceRef   `json:"subscriptions"`
}

// Subscribe adds the caller to each requested service option
func (c *Contract) Subscribe(ctx *chain.Ctx, requests []SubscriptionRequest) error {
	if len(requests) == 0 {
		return ErrEmptyRequest
	}

	s := ctx.Store()
	userID, err := UserIDs.GetIDOrInsert(s, ctx.Caller())
	if err != nil {
		return err
	}

	refs := make([]ServiceRef, 0, len(requests))
	for _, req := range requests {
		if !req.Cadence.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidCadence, req.Cadence)
		}
		descriptors, err := ServiceDescriptors(s, req.ServiceID)
		if err != nil {
			return err
		}
		if len(descriptors) == 0 {
			return fmt.Errorf("%w: %d", ErrUnknownService, req.ServiceID)
		}
		if int(req.ServiceIndex) >= len(descriptors) {
			return fmt.Errorf("%w: %d of service %d", ErrInvalidServiceIndex, req.ServiceIndex, req.ServiceID)
		}

		if _, err := Subscribers(req.ServiceID, req.ServiceIndex).Insert(s, userID); err != nil {
			return err
		}
		cadence := SubscriptionCadence(userID, req.ServiceID, req.ServiceIndex)
		if req.Cadence == CadenceNone {
			cadence.Clear(s)
		} else if err := cadence.Set(s, req.Cadence); err != nil {
			return err
		}
		refs = append(refs, ServiceRef{ServiceID: req.ServiceID, ServiceIndex: req.ServiceIndex})
	}

	ctx.Emit("subscribe", subscriptionEvent{User: ctx.Caller(), UserID: userID, Subscriptions: refs})
	return nil
}

// Unsubscribe removes the caller from each option and clears its cooldown
func (c *Contract) Unsubscribe(ctx *chain.Ctx, refs []ServiceRef) error {
	s := ctx.Store()
	userID, err := UserIDs.GetIDNonZero(s, ctx.Caller())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownUser, err)
	}

	removed := make([]ServiceRef, 0, len(refs))
	for _, ref := range refs {
		ok, err := Subscribers(ref.ServiceID, ref.ServiceIndex).SwapRemove(s, userID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		SubscriptionCadence(userID, ref.ServiceID, ref.ServiceIndex).Clear(s)
		NextPaymentEpoch(userID, ref.ServiceID, ref.ServiceIndex).Clear(s)
		removed = append(removed, ref)
	}

	ctx.Emit("unsubscribe", subscriptionEvent{User: ctx.Caller(), UserID: userID, Subscriptions: removed})
	return nil
}

// IsSubscribed reports whether userID is subscribed to the option
func IsSubscribed(r storage.Reader, userID, serviceID uint64, serviceIndex uint32) (bool, error) {
	return Subscribers(serviceID, serviceIndex).Contains(r, userID)
}

// Interval returns the number of epochs between two charges of userID for
// the option. A cadence chosen at subscription overrides the option's own
// interval.
func Interval(r storage.Reader, d ServiceDescriptor, userID, serviceID uint64, serviceIndex uint32) (uint64, error) {
	cadence, err := SubscriptionCadence(userID, serviceID, serviceIndex).GetOrDefault(r, CadenceNone)
	if err != nil {
		return 0, err
	}
	if cadence != CadenceNone {
		return cadence.Epochs(), nil
	}
	return d.SubscriptionEpochs, nil
}

// NextEligibleEpoch returns the first epoch at which userID may be charged
// for the option. Users never charged become eligible one interval after
// epoch zero.
func NextEligibleEpoch(r storage.Reader, d ServiceDescriptor, userID, serviceID uint64, serviceIndex uint32) (uint64, error) {
	next, ok, err := NextPaymentEpoch(userID, serviceID, serviceIndex).Get(r)
	if err != nil || ok {
		return next, err
	}
	return Interval(r, d, userID, serviceID, serviceIndex)
}

// PaymentDue reports whether userID can be charged at epoch. It reads only
// the fee contract namespace, so service contracts use it through
// chain.Ctx.Remote to pre-check eligibility.
func PaymentDue(r storage.Reader, epoch, userID, serviceID uint64, serviceIndex uint32) (bool, error) {
	descriptors, err := ServiceDescriptors(r, serviceID)
	if err != nil {
		return false, err
	}
	if int(serviceIndex) >= len(descriptors) {
		return false, nil
	}
	next, err := NextEligibleEpoch(r, descriptors[serviceIndex], userID, serviceID, serviceIndex)
	if err != nil {
		return false, err
	}
	return epoch >= next, nil
}
