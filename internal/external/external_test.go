package external

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
)

const (
	usdc   models.TokenID = "USDC-c76f1f"
	wegld  models.TokenID = "WEGLD-bd4d79"
	mex    models.TokenID = "MEX-455c57"
	xmex   models.TokenID = "XMEX-fda355"
	reward models.TokenID = "RWD-a1b2c3"
)

type testChain struct {
	t     *testing.T
	chain *chain.Chain
	owner models.Address
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()
	c, err := chain.Open(chain.Config{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &testChain{t: t, chain: c, owner: chain.AccountAddress("owner")}
}

func (tc *testChain) deploy(salt string, contract chain.Contract) models.Address {
	tc.t.Helper()
	addr, err := tc.chain.Deploy(tc.owner, salt, contract)
	require.NoError(tc.t, err)
	return addr
}

func (tc *testChain) exec(caller, to models.Address, payments []models.Payment, fn func(*chain.Ctx) error) error {
	_, err := tc.chain.Execute(context.Background(), chain.Tx{Caller: caller, To: to, Payments: payments}, fn)
	return err
}

func (tc *testChain) mustExec(caller, to models.Address, payments []models.Payment, fn func(*chain.Ctx) error) {
	tc.t.Helper()
	require.NoError(tc.t, tc.exec(caller, to, payments, fn))
}

func (tc *testChain) balance(addr models.Address, token models.TokenID, nonce uint64) int64 {
	tc.t.Helper()
	p, err := tc.chain.Balance(addr, token, nonce)
	require.NoError(tc.t, err)
	return p.Amount.Int64()
}

func pay(token models.TokenID, amount int64) models.Payment {
	return models.NewPayment(token, 0, math.NewInt(amount))
}

func TestPair(t *testing.T) {
	tc := newTestChain(t)
	pair := NewPair(zap.NewNop())
	addr := tc.deploy("pair", pair)
	trader := chain.AccountAddress("trader")

	tc.mustExec(tc.owner, addr, nil, func(ctx *chain.Ctx) error {
		return pair.Init(ctx, tc.owner, wegld, usdc)
	})

	t.Run("no liquidity", func(t *testing.T) {
		err := tc.exec(trader, addr, nil, func(ctx *chain.Ctx) error {
			_, err := pair.Price(ctx, wegld, math.NewInt(10))
			return err
		})
		require.ErrorIs(t, err, ErrNoLiquidity)
	})

	require.NoError(t, tc.chain.Mint(tc.owner, pay(wegld, 1_000), pay(usdc, 40_000)))
	tc.mustExec(tc.owner, addr, []models.Payment{pay(wegld, 1_000), pay(usdc, 40_000)}, pair.AddLiquidity)

	t.Run("price", func(t *testing.T) {
		tc.mustExec(trader, addr, nil, func(ctx *chain.Ctx) error {
			price, err := pair.Price(ctx, wegld, math.NewInt(10))
			require.NoError(t, err)
			require.Equal(t, int64(400), price.Int64())

			price, err = pair.Price(ctx, usdc, math.NewInt(400))
			require.NoError(t, err)
			require.Equal(t, int64(10), price.Int64())
			return nil
		})
	})

	t.Run("unknown token", func(t *testing.T) {
		err := tc.exec(trader, addr, nil, func(ctx *chain.Ctx) error {
			_, err := pair.Price(ctx, mex, math.NewInt(10))
			return err
		})
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("slippage", func(t *testing.T) {
		require.NoError(t, tc.chain.Mint(trader, pay(wegld, 100)))
		err := tc.exec(trader, addr, []models.Payment{pay(wegld, 100)}, func(ctx *chain.Ctx) error {
			_, err := pair.SwapFixedInput(ctx, usdc, math.NewInt(4_000))
			return err
		})
		require.ErrorIs(t, err, ErrSlippage)
		require.Equal(t, int64(100), tc.balance(trader, wegld, 0))
	})

	t.Run("swap", func(t *testing.T) {
		tc.mustExec(trader, addr, []models.Payment{pay(wegld, 100)}, func(ctx *chain.Ctx) error {
			out, err := pair.SwapFixedInput(ctx, usdc, math.NewInt(1))
			require.NoError(t, err)
			require.Equal(t, int64(3_626), out.Amount.Int64())
			return err
		})
		require.Equal(t, int64(3_626), tc.balance(trader, usdc, 0))
		require.Equal(t, int64(0), tc.balance(trader, wegld, 0))

		require.NoError(t, tc.chain.Query(context.Background(), addr, func(ctx *chain.Ctx) error {
			first, second, err := pair.Reserves(ctx.Store())
			require.NoError(t, err)
			require.Equal(t, int64(1_100), first.Int64())
			require.Equal(t, int64(40_000-3_626), second.Int64())
			return nil
		}))
	})
}

func TestAmountOut(t *testing.T) {
	tests := []struct {
		name                string
		in, rIn, rOut, want int64
	}{
		{"small", 100, 1_000, 40_000, 3_626},
		{"dust", 1, 1_000_000, 10, 0},
		{"balanced", 1_000, 1_000_000, 1_000_000, 996},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AmountOut(math.NewInt(tt.in), math.NewInt(tt.rIn), math.NewInt(tt.rOut))
			require.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestEnergyFactoryLockTokens(t *testing.T) {
	tc := newTestChain(t)
	factory := NewEnergyFactory(zap.NewNop())
	addr := tc.deploy("energy", factory)
	user := chain.AccountAddress("user")
	locker := chain.AccountAddress("locker")

	tc.mustExec(tc.owner, addr, nil, func(ctx *chain.Ctx) error {
		return factory.Init(ctx, tc.owner, mex, xmex)
	})
	require.NoError(t, tc.chain.SetEpoch(5))
	require.NoError(t, tc.chain.Mint(locker, pay(mex, 500), pay(usdc, 10)))

	err := tc.exec(locker, addr, []models.Payment{pay(usdc, 10)}, func(ctx *chain.Ctx) error {
		_, err := factory.LockTokens(ctx, 360, user)
		return err
	})
	require.ErrorIs(t, err, ErrInvalidToken)

	tc.mustExec(locker, addr, []models.Payment{pay(mex, 500)}, func(ctx *chain.Ctx) error {
		locked, err := factory.LockTokens(ctx, 360, user)
		require.NoError(t, err)
		require.Equal(t, uint64(365), locked.Nonce)
		return err
	})

	require.Equal(t, int64(500), tc.balance(user, xmex, 365))
	require.Equal(t, int64(0), tc.balance(addr, mex, 0))
	tc.mustExec(user, addr, nil, func(ctx *chain.Ctx) error {
		energy, err := factory.Energy(ctx, user)
		require.Equal(t, int64(180_000), energy.Int64())
		return err
	})

	err = tc.exec(user, addr, nil, func(ctx *chain.Ctx) error {
		return factory.SetEnergy(ctx, user, math.NewInt(1))
	})
	require.ErrorIs(t, err, access.ErrNotOwner)
}

func TestFarmClaimBoostedRewards(t *testing.T) {
	tc := newTestChain(t)
	farm := NewFarm(zap.NewNop())
	addr := tc.deploy("farm", farm)
	user := chain.AccountAddress("user")
	keeper := chain.AccountAddress("keeper")

	tc.mustExec(tc.owner, addr, nil, func(ctx *chain.Ctx) error {
		return farm.Init(ctx, tc.owner, reward)
	})
	tc.mustExec(tc.owner, addr, nil, func(ctx *chain.Ctx) error {
		return farm.AccrueRewards(ctx, user, math.NewInt(70))
	})

	claim := func(caller models.Address) (models.Payment, error) {
		var out models.Payment
		err := tc.exec(caller, addr, nil, func(ctx *chain.Ctx) error {
			var err error
			out, err = farm.ClaimBoostedRewards(ctx, user)
			return err
		})
		return out, err
	}

	_, err := claim(keeper)
	require.ErrorIs(t, err, ErrClaimNotAllowed)

	tc.mustExec(user, addr, nil, func(ctx *chain.Ctx) error {
		return farm.SetAllowExternalClaim(ctx, true)
	})
	rewards, err := claim(keeper)
	require.NoError(t, err)
	require.Equal(t, int64(70), rewards.Amount.Int64())
	require.Equal(t, int64(70), tc.balance(user, reward, 0))
	require.Equal(t, int64(0), tc.balance(keeper, reward, 0))

	rewards, err = claim(keeper)
	require.NoError(t, err)
	require.True(t, rewards.IsZero())
}

func TestMetabondingClaimRewards(t *testing.T) {
	tc := newTestChain(t)
	metabonding := NewMetabonding(zap.NewNop())
	addr := tc.deploy("metabonding", metabonding)
	user := chain.AccountAddress("user")
	claimer := chain.AccountAddress("claimer")

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	tc.mustExec(tc.owner, addr, nil, func(ctx *chain.Ctx) error {
		return metabonding.Init(ctx, tc.owner, crypto.PubkeyToAddress(key.PublicKey))
	})
	require.NoError(t, tc.chain.Mint(tc.owner, pay(reward, 1_000)))
	tc.mustExec(tc.owner, addr, []models.Payment{pay(reward, 1_000)}, func(ctx *chain.Ctx) error {
		return metabonding.AddWeeklyRewards(ctx, 3, math.NewInt(400))
	})

	delegation, staked := math.NewInt(100), math.NewInt(100)
	claim := func(week uint64, sig []byte) error {
		return tc.exec(claimer, addr, nil, func(ctx *chain.Ctx) error {
			_, err := metabonding.ClaimRewards(ctx, user, week, delegation, staked, sig)
			return err
		})
	}

	forged, err := SignClaim(other, user, 3, delegation, staked)
	require.NoError(t, err)
	require.ErrorIs(t, claim(3, forged), ErrInvalidSignature)
	require.ErrorIs(t, claim(3, []byte("short")), ErrInvalidSignature)

	sig, err := SignClaim(key, user, 3, delegation, staked)
	require.NoError(t, err)
	require.NoError(t, claim(3, sig))
	require.Equal(t, int64(500), tc.balance(claimer, reward, 0))

	require.ErrorIs(t, claim(3, sig), ErrAlreadyClaimed)

	sig4, err := SignClaim(key, user, 4, delegation, staked)
	require.NoError(t, err)
	require.ErrorIs(t, claim(4, sig4), ErrUnknownWeek)
}
