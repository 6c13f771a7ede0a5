// Package access stores the owner and admin set of a contract
package access

import (
	"errors"
	"fmt"

	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
)

var (
	ErrNotOwner = errors.New("caller is not the owner")
	ErrNotAdmin = errors.New("caller is not an admin")
)

var (
	owner  = storage.NewValue[models.Address]([]byte("owner"))
	admins = storage.NewUnorderedSet[models.Address]([]byte("admins"))
)

// Init records the owner and the initial admins of the executing contract
func Init(ctx *chain.Ctx, addr models.Address, initialAdmins ...models.Address) error {
	if addr.IsZero() {
		return errors.New("owner cannot be the zero address")
	}
	if err := owner.Set(ctx.Store(), addr); err != nil {
		return err
	}
	for _, admin := range initialAdmins {
		if _, err := admins.Insert(ctx.Store(), admin); err != nil {
			return err
		}
	}
	return nil
}

// Owner returns the owner of the contract whose namespace r reads
func Owner(r storage.Reader) (models.Address, error) {
	addr, ok, err := owner.Get(r)
	if err != nil {
		return models.Address{}, err
	}
	if !ok {
		return models.Address{}, errors.New("contract is not initialized")
	}
	return addr, nil
}

// IsAdmin reports whether addr is the owner or in the admin set
func IsAdmin(r storage.Reader, addr models.Address) (bool, error) {
	o, err := Owner(r)
	if err != nil {
		return false, err
	}
	if o == addr {
		return true, nil
	}
	return admins.Contains(r, addr)
}

// RequireOwner fails unless the caller is the owner
func RequireOwner(ctx *chain.Ctx) error {
	o, err := Owner(ctx.Store())
	if err != nil {
		return err
	}
	if o != ctx.Caller() {
		return fmt.Errorf("%w: %s", ErrNotOwner, ctx.Caller())
	}
	return nil
}

// RequireAdmin fails unless the caller is the owner or an admin
func RequireAdmin(ctx *chain.Ctx) error {
	ok, err := IsAdmin(ctx.Store(), ctx.Caller())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAdmin, ctx.Caller())
	}
	return nil
}

// AddAdmins is an owner endpoint
func AddAdmins(ctx *chain.Ctx, addrs []models.Address) error {
	if err := RequireOwner(ctx); err != nil {
		return err
	}
	for _, addr := range addrs {
		if _, err := admins.Insert(ctx.Store(), addr); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAdmins is an owner endpoint
func RemoveAdmins(ctx *chain.Ctx, addrs []models.Address) error {
	if err := RequireOwner(ctx); err != nil {
		return err
	}
	for _, addr := range addrs {
		if _, err := admins.SwapRemove(ctx.Store(), addr); err != nil {
			return err
		}
	}
	return nil
}

// Admins lists the admin set, without the owner
func Admins(r storage.Reader) ([]models.Address, error) {
	return admins.Items(r)
}
