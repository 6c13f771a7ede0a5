package subscriptionfee

import (
	"fmt"

	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
)

type serviceEvent struct {
	Service   models.Address `json:"service"`
	ServiceID uint64         `json:"service_id,omitempty"`
	Options   int            `json:"options,omitempty"`
}

// RegisterService queues the caller's service options for approval. A
// service still pending may replace its options.
func (c *Contract) RegisterService(ctx *chain.Ctx, descriptors []ServiceDescriptor) error {
	caller := ctx.Caller()
	if !ctx.IsSmartContract(caller) {
		return fmt.Errorf("%w: %s", ErrNotSmartContract, caller)
	}
	if err := c.validateDescriptors(ctx, descriptors, 0); err != nil {
		return err
	}

	s := ctx.Store()
	id, err := ServiceIDs.GetID(s, caller)
	if err != nil {
		return err
	}
	if id != storage.NullID {
		return fmt.Errorf("%w: %s has id %d", ErrAlreadyRegistered, caller, id)
	}

	inserted, err := pendingServices.Insert(s, caller)
	if err != nil {
		return err
	}
	if inserted {
		pending, err := pendingServices.Len(s)
		if err != nil {
			return err
		}
		limit, err := maxPendingServices.GetOrDefault(s, 0)
		if err != nil {
			return err
		}
		if pending > limit {
			return fmt.Errorf("%w: limit is %d", ErrTooManyPending, limit)
		}
	}
	if err := pendingServiceInfo(caller).Set(s, descriptors); err != nil {
		return err
	}

	ctx.Emit("registerService", serviceEvent{Service: caller, Options: len(descriptors)})
	return nil
}

// ApproveService moves a pending service to the live registry and issues
// its id. Admin endpoint.
func (c *Contract) ApproveService(ctx *chain.Ctx, service models.Address) error {
	if err := access.RequireAdmin(ctx); err != nil {
		return err
	}

	s := ctx.Store()
	removed, err := pendingServices.SwapRemove(s, service)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrNotPending, service)
	}
	descriptors, _, err := pendingServiceInfo(service).Take(s)
	if err != nil {
		return err
	}

	id, err := ServiceIDs.InsertNew(s, service)
	if err != nil {
		return err
	}
	if err := ServiceInfo(id).Set(s, descriptors); err != nil {
		return err
	}

	c.logger.Info("Service approved",
		zap.String("service", service.String()),
		zap.Uint64("service_id", id),
		zap.Int("options", len(descriptors)))

	ctx.Emit("approveService", serviceEvent{Service: service, ServiceID: id, Options: len(descriptors)})
	return nil
}

// UnregisterService removes the caller's service, pending or live
func (c *Contract) UnregisterService(ctx *chain.Ctx) error {
	return c.unregister(ctx, ctx.Caller())
}

// UnregisterServiceByOwner removes any service. Admin endpoint.
func (c *Contract) UnregisterServiceByOwner(ctx *chain.Ctx, service models.Address) error {
	if err := access.RequireAdmin(ctx); err != nil {
		return err
	}
	return c.unregister(ctx, service)
}

func (c *Contract) unregister(ctx *chain.Ctx, service models.Address) error {
	s := ctx.Store()
	wasPending, err := pendingServices.SwapRemove(s, service)
	if err != nil {
		return err
	}
	pendingServiceInfo(service).Clear(s)

	id, err := ServiceIDs.Remove(s, service)
	if err != nil {
		return err
	}
	if id == storage.NullID && !wasPending {
		return fmt.Errorf("%w: %s", ErrNotRegistered, service)
	}
	if id != storage.NullID {
		ServiceInfo(id).Clear(s)
	}

	ctx.Emit("unregisterService", serviceEvent{Service: service, ServiceID: id})
	return nil
}

// AddExtraServices appends options to the caller's approved service
func (c *Contract) AddExtraServices(ctx *chain.Ctx, descriptors []ServiceDescriptor) error {
	s := ctx.Store()
	id, err := ServiceIDs.GetIDNonZero(s, ctx.Caller())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotRegistered, err)
	}
	existing, err := ServiceInfo(id).GetOrDefault(s, nil)
	if err != nil {
		return err
	}
	if err := c.validateDescriptors(ctx, descriptors, len(existing)); err != nil {
		return err
	}
	return ServiceInfo(id).Set(s, append(existing, descriptors...))
}

func (c *Contract) validateDescriptors(ctx *chain.Ctx, descriptors []ServiceDescriptor, existing int) error {
	if len(descriptors) == 0 {
		return ErrEmptyDescriptors
	}
	limit, err := maxServiceInfoNo.GetOrDefault(ctx.Store(), 0)
	if err != nil {
		return err
	}
	if uint64(existing+len(descriptors)) > limit {
		return fmt.Errorf("%w: limit is %d", ErrTooManyServiceInfos, limit)
	}

	for i, d := range descriptors {
		if !d.AnyToken() {
			accepted, err := c.isAcceptedToken(ctx, d.PaymentToken)
			if err != nil {
				return err
			}
			if !accepted {
				return fmt.Errorf("%w: option %d pays in %s", ErrInvalidToken, i, d.PaymentToken)
			}
		}
		if d.NormalAmount.IsNil() || !d.NormalAmount.IsPositive() {
			return fmt.Errorf("%w: option %d", ErrInvalidAmount, i)
		}
		if !d.PremiumAmount.IsNil() && d.PremiumAmount.IsNegative() {
			return fmt.Errorf("%w: option %d premium", ErrInvalidAmount, i)
		}
		if d.HasPremium() && d.PremiumAmount.LT(d.NormalAmount) {
			return fmt.Errorf("%w: option %d", ErrPremiumBelowNormal, i)
		}
		if d.SubscriptionEpochs == 0 {
			return fmt.Errorf("%w: option %d", ErrInvalidInterval, i)
		}
		if d.EndpointPayment != "" && !d.EndpointPayment.IsValid() {
			return fmt.Errorf("%w: option %d endpoint payment %q", ErrInvalidToken, i, d.EndpointPayment)
		}
	}
	return nil
}

// ServiceDescriptors returns the live options of serviceID as read through r
func ServiceDescriptors(r storage.Reader, serviceID uint64) ([]ServiceDescriptor, error) {
	return ServiceInfo(serviceID).GetOrDefault(r, nil)
}

// PendingServiceDescriptors returns the options awaiting approval
func PendingServiceDescriptors(r storage.Reader, service models.Address) ([]ServiceDescriptor, bool, error) {
	return pendingServiceInfo(service).Get(r)
}

// PendingServices lists the services awaiting approval
func PendingServices(r storage.Reader) ([]models.Address, error) {
	return pendingServices.Items(r)
}
