package subscriptionfee

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/models"
)

const (
	usdc models.TokenID = "USDC-c76f1f"
	wegl models.TokenID = "WEGLD-bd4d79"
	utk  models.TokenID = "UTK-2f80e9"
)

// fakePair quotes one WEGLD at 40 USDC
type fakePair struct{}

func (fakePair) Name() string { return "fake-pair" }

func (fakePair) Price(_ *chain.Ctx, token models.TokenID, amount math.Int) (math.Int, error) {
	if token == wegl {
		return amount.MulRaw(40), nil
	}
	return amount.QuoRaw(40), nil
}

type fakeEnergy struct {
	energy map[models.Address]int64
}

func (*fakeEnergy) Name() string { return "fake-energy" }

func (f *fakeEnergy) Energy(_ *chain.Ctx, user models.Address) (math.Int, error) {
	return math.NewInt(f.energy[user]), nil
}

type stubService struct{}

func (stubService) Name() string { return "service" }

type fixture struct {
	t       *testing.T
	chain   *chain.Chain
	fee     *Contract
	feeAddr models.Address
	owner   models.Address
	service models.Address
	energy  *fakeEnergy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c, err := chain.Open(chain.Config{Backend: chain.BackendMemDB}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	f := &fixture{
		t:      t,
		chain:  c,
		fee:    New(zap.NewNop()),
		owner:  chain.AccountAddress("owner"),
		energy: &fakeEnergy{energy: map[models.Address]int64{}},
	}

	f.feeAddr, err = c.Deploy(f.owner, "fee", f.fee)
	require.NoError(t, err)
	f.service, err = c.Deploy(f.owner, "service", stubService{})
	require.NoError(t, err)
	pair, err := c.Deploy(f.owner, "pair", fakePair{})
	require.NoError(t, err)
	energy, err := c.Deploy(f.owner, "energy", f.energy)
	require.NoError(t, err)

	require.NoError(t, f.exec(f.owner, nil, func(ctx *chain.Ctx) error {
		if err := f.fee.Init(ctx, InitArgs{
			Owner:               f.owner,
			StableToken:         usdc,
			AcceptedTokens:      []models.TokenID{wegl, utk},
			MinUserDepositValue: math.ZeroInt(),
			MaxUserDeposits:     5,
			MaxPendingServices:  3,
			MaxServiceInfoNo:    4,
			EnergyFactory:       energy,
			EnergyThreshold:     math.NewInt(100),
		}); err != nil {
			return err
		}
		return f.fee.AddPair(ctx, wegl, pair)
	}))

	return f
}

func (f *fixture) exec(caller models.Address, payments []models.Payment, fn func(*chain.Ctx) error) error {
	_, err := f.chain.Execute(context.Background(), chain.Tx{
		Caller:   caller,
		To:       f.feeAddr,
		Payments: payments,
	}, fn)
	return err
}

func (f *fixture) query(fn func(*chain.Ctx)) {
	f.t.Helper()
	require.NoError(f.t, f.chain.Query(context.Background(), f.feeAddr, func(ctx *chain.Ctx) error {
		fn(ctx)
		return nil
	}))
}

func (f *fixture) setEpoch(epoch uint64) {
	f.t.Helper()
	require.NoError(f.t, f.chain.SetEpoch(epoch))
}

// registerService registers and approves descriptors for f.service and
// returns the issued service id
func (f *fixture) registerService(descriptors ...ServiceDescriptor) uint64 {
	f.t.Helper()
	require.NoError(f.t, f.exec(f.service, nil, func(ctx *chain.Ctx) error {
		return f.fee.RegisterService(ctx, descriptors)
	}))
	require.NoError(f.t, f.exec(f.owner, nil, func(ctx *chain.Ctx) error {
		return f.fee.ApproveService(ctx, f.service)
	}))

	var id uint64
	f.query(func(ctx *chain.Ctx) {
		var err error
		id, err = ServiceIDs.GetIDNonZero(ctx.Store(), f.service)
		require.NoError(f.t, err)
	})
	return id
}

func (f *fixture) user(name string, deposits ...models.Payment) (models.Address, uint64) {
	f.t.Helper()
	addr := chain.AccountAddress(name)
	require.NoError(f.t, f.chain.Mint(addr, deposits...))
	for _, p := range deposits {
		require.NoError(f.t, f.exec(addr, []models.Payment{p}, f.fee.Deposit))
	}

	var id uint64
	f.query(func(ctx *chain.Ctx) {
		var err error
		id, err = UserIDs.GetID(ctx.Store(), addr)
		require.NoError(f.t, err)
	})
	return addr, id
}

func (f *fixture) subscribe(user models.Address, reqs ...SubscriptionRequest) {
	f.t.Helper()
	require.NoError(f.t, f.exec(user, nil, func(ctx *chain.Ctx) error {
		return f.fee.Subscribe(ctx, reqs)
	}))
}

func (f *fixture) subtract(serviceIndex uint32, userID uint64) (models.Payment, error) {
	var payment models.Payment
	err := f.exec(f.service, nil, func(ctx *chain.Ctx) error {
		var err error
		payment, err = f.fee.SubtractPayment(ctx, serviceIndex, userID)
		return err
	})
	return payment, err
}

func (f *fixture) funds(userID uint64) []models.Payment {
	f.t.Helper()
	var out []models.Payment
	f.query(func(ctx *chain.Ctx) {
		funds, err := UserFunds(ctx.Store(), userID)
		require.NoError(f.t, err)
		out = funds
	})
	return out
}

func (f *fixture) balance(addr models.Address, token models.TokenID) math.Int {
	f.t.Helper()
	p, err := f.chain.Balance(addr, token, 0)
	require.NoError(f.t, err)
	return p.Amount
}

func pay(token models.TokenID, amount int64) models.Payment {
	return models.NewPayment(token, 0, math.NewInt(amount))
}

func fixed(token models.TokenID, amount int64, epochs uint64) ServiceDescriptor {
	return ServiceDescriptor{
		PaymentToken:       token,
		NormalAmount:       math.NewInt(amount),
		PremiumAmount:      math.ZeroInt(),
		SubscriptionEpochs: epochs,
	}
}
