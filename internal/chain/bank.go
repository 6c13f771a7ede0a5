package chain

import (
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	storetypes "cosmossdk.io/store/types"

	"subfee/internal/models"
	"subfee/internal/storage"
)

func balanceKey(addr models.Address, token models.TokenID, nonce uint64) []byte {
	return storage.Key(string(balancePrefix), addr[:], storage.U64(nonce), []byte(token))
}

// Balance returns the balance of addr in the running transaction
func (c *Ctx) Balance(addr models.Address, token models.TokenID, nonce uint64) math.Int {
	raw := c.store.Get(balanceKey(addr, token, nonce))
	if raw == nil {
		return math.ZeroInt()
	}
	return math.NewIntFromBigInt(new(big.Int).SetBytes(raw))
}

// Balances lists every non-zero balance held by addr
func (c *Ctx) Balances(addr models.Address) []models.Payment {
	prefixKey := storage.Key(string(balancePrefix), addr[:])
	iter := storetypes.KVStorePrefixIterator(c.store, prefixKey)
	defer iter.Close()

	var out []models.Payment
	for ; iter.Valid(); iter.Next() {
		rest := iter.Key()[len(prefixKey):]
		if len(rest) < 8 {
			continue
		}
		nonce := new(big.Int).SetBytes(rest[:8]).Uint64()
		amount := math.NewIntFromBigInt(new(big.Int).SetBytes(iter.Value()))
		out = append(out, models.NewPayment(models.TokenID(rest[8:]), nonce, amount))
	}
	return out
}

// Send transfers payments from Self to to
func (c *Ctx) Send(to models.Address, payments ...models.Payment) error {
	return c.transfer(c.self, to, payments)
}

// Mint creates tokens in the balance of Self
func (c *Ctx) Mint(p models.Payment) {
	c.ConsumeGas(MintCost, "mint")
	c.credit(c.self, p)
}

// Burn destroys tokens held by Self
func (c *Ctx) Burn(p models.Payment) error {
	c.ConsumeGas(BurnCost, "burn")
	return c.debit(c.self, p)
}

func (c *Ctx) transfer(from, to models.Address, payments []models.Payment) error {
	for _, p := range payments {
		if p.IsZero() {
			continue
		}
		if p.Amount.IsNegative() {
			return fmt.Errorf("negative transfer amount %s", p)
		}
		c.ConsumeGas(TransferCost, "transfer")
		if err := c.debit(from, p); err != nil {
			return err
		}
		c.credit(to, p)
	}
	return nil
}

func (c *Ctx) credit(addr models.Address, p models.Payment) {
	if p.IsZero() {
		return
	}
	balance := c.Balance(addr, p.Token, p.Nonce).Add(p.Amount)
	c.store.Set(balanceKey(addr, p.Token, p.Nonce), balance.BigInt().Bytes())
}

func (c *Ctx) debit(addr models.Address, p models.Payment) error {
	if p.IsZero() {
		return nil
	}
	balance := c.Balance(addr, p.Token, p.Nonce)
	if balance.LT(p.Amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, addr, balance, p)
	}
	remaining := balance.Sub(p.Amount)
	key := balanceKey(addr, p.Token, p.Nonce)
	if remaining.IsZero() {
		c.store.Delete(key)
		return nil
	}
	c.store.Set(key, remaining.BigInt().Bytes())
	return nil
}
