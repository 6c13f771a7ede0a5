package subscriber

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/ongoing"
	"subfee/internal/storage"
	"subfee/internal/subscriptionfee"
)

const (
	usdc   models.TokenID = "USDC-c76f1f"
	reward models.TokenID = "RWD-a1b2c3"
)

const feeAmount = 10

// stubStrategy mints a reward equal to the user id, burns the endpoint
// payment and records the argument it was given
type stubStrategy struct {
	fail        map[uint64]bool
	disposition FeeDisposition
}

func (*stubStrategy) Name() string { return "stub" }

func (*stubStrategy) GasPerUser() uint64 { return 30_000 }

func (s *stubStrategy) PerformAction(ctx *chain.Ctx, req ActionRequest) (ActionResult, error) {
	ctx.Store().Set(servedKey(req.UserID), append([]byte{1}, req.Arg...))
	if s.fail[req.UserID] {
		return ActionResult{}, errors.New("action failed")
	}
	if !req.Payment.IsZero() {
		if err := ctx.Burn(req.Payment); err != nil {
			return ActionResult{}, err
		}
	}
	payout := models.NewPayment(reward, 0, math.NewIntFromUint64(req.UserID))
	ctx.Mint(payout)
	return ActionResult{Rewards: []models.Payment{payout}, Fee: s.disposition}, nil
}

func servedKey(userID uint64) []byte {
	return storage.Key("served", storage.U64(userID))
}

type env struct {
	t        *testing.T
	chain    *chain.Chain
	fee      *subscriptionfee.Contract
	feeAddr  models.Address
	sub      *Contract
	subAddr  models.Address
	strategy *stubStrategy

	owner  models.Address
	admin  models.Address
	keeper models.Address

	serviceID uint64
	users     []models.Address
	userIDs   []uint64
}

func option() subscriptionfee.ServiceDescriptor {
	return subscriptionfee.ServiceDescriptor{
		PaymentToken:       usdc,
		NormalAmount:       math.NewInt(feeAmount),
		PremiumAmount:      math.ZeroInt(),
		SubscriptionEpochs: 1,
	}
}

// newEnv deploys a fee contract and a subscriber offering options, with
// users subscribed to every option and eligible at epoch 1
func newEnv(t *testing.T, users int, options ...subscriptionfee.ServiceDescriptor) *env {
	t.Helper()

	c, err := chain.Open(chain.Config{Backend: chain.BackendMemDB}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	e := &env{
		t:        t,
		chain:    c,
		fee:      subscriptionfee.New(zap.NewNop()),
		strategy: &stubStrategy{fail: map[uint64]bool{}},
		owner:    chain.AccountAddress("owner"),
		admin:    chain.AccountAddress("admin"),
		keeper:   chain.AccountAddress("keeper"),
	}
	e.sub = New(e.strategy, zap.NewNop())

	e.feeAddr, err = c.Deploy(e.owner, "fee", e.fee)
	require.NoError(t, err)
	e.subAddr, err = c.Deploy(e.owner, "subscriber", e.sub)
	require.NoError(t, err)

	e.mustExec(e.owner, e.feeAddr, func(ctx *chain.Ctx) error {
		return e.fee.Init(ctx, subscriptionfee.InitArgs{
			Owner:               e.owner,
			StableToken:         usdc,
			MinUserDepositValue: math.ZeroInt(),
			MaxUserDeposits:     5,
			MaxPendingServices:  5,
			MaxServiceInfoNo:    5,
			EnergyThreshold:     math.ZeroInt(),
		})
	})
	e.mustExec(e.owner, e.subAddr, func(ctx *chain.Ctx) error {
		return e.sub.Init(ctx, InitArgs{
			Owner:       e.owner,
			FeeContract: e.feeAddr,
			Admins:      []models.Address{e.admin, e.keeper},
		})
	})
	e.mustExec(e.owner, e.subAddr, func(ctx *chain.Ctx) error {
		return e.sub.RegisterAtFeeContract(ctx, options)
	})
	e.mustExec(e.owner, e.feeAddr, func(ctx *chain.Ctx) error {
		return e.fee.ApproveService(ctx, e.subAddr)
	})
	e.query(e.subAddr, func(ctx *chain.Ctx) {
		e.serviceID, err = ServiceID(ctx)
		require.NoError(t, err)
	})

	requests := make([]subscriptionfee.SubscriptionRequest, len(options))
	for i := range options {
		requests[i] = subscriptionfee.SubscriptionRequest{ServiceID: e.serviceID, ServiceIndex: uint32(i)}
	}
	for i := 0; i < users; i++ {
		addr := chain.AccountAddress(fmt.Sprintf("user-%d", i))
		deposit := models.NewPayment(usdc, 0, math.NewInt(10_000))
		require.NoError(t, c.Mint(addr, deposit))
		e.mustExecWith(addr, e.feeAddr, []models.Payment{deposit}, e.fee.Deposit)
		e.mustExec(addr, e.feeAddr, func(ctx *chain.Ctx) error {
			return e.fee.Subscribe(ctx, requests)
		})

		e.users = append(e.users, addr)
		e.query(e.feeAddr, func(ctx *chain.Ctx) {
			id, err := subscriptionfee.UserIDs.GetIDNonZero(ctx.Store(), addr)
			require.NoError(t, err)
			e.userIDs = append(e.userIDs, id)
		})
	}

	require.NoError(t, c.SetEpoch(1))
	return e
}

func (e *env) exec(caller, to models.Address, gas uint64, payments []models.Payment, fn func(*chain.Ctx) error) error {
	_, err := e.chain.Execute(context.Background(), chain.Tx{
		Caller:   caller,
		To:       to,
		Payments: payments,
		GasLimit: gas,
	}, fn)
	return err
}

func (e *env) mustExec(caller, to models.Address, fn func(*chain.Ctx) error) {
	e.t.Helper()
	require.NoError(e.t, e.exec(caller, to, 0, nil, fn))
}

func (e *env) mustExecWith(caller, to models.Address, payments []models.Payment, fn func(*chain.Ctx) error) {
	e.t.Helper()
	require.NoError(e.t, e.exec(caller, to, 0, payments, fn))
}

func (e *env) query(addr models.Address, fn func(*chain.Ctx)) {
	e.t.Helper()
	require.NoError(e.t, e.chain.Query(context.Background(), addr, func(ctx *chain.Ctx) error {
		fn(ctx)
		return nil
	}))
}

func (e *env) perform(caller models.Address, serviceIndex uint32, auxArgs [][]byte, gas uint64) (ongoing.Status, error) {
	var status ongoing.Status
	err := e.exec(caller, e.subAddr, gas, nil, func(ctx *chain.Ctx) error {
		var err error
		status, err = e.sub.PerformService(ctx, serviceIndex, auxArgs)
		return err
	})
	return status, err
}

// runToCompletion calls PerformService until it completes and returns the
// number of calls it took
func (e *env) runToCompletion(serviceIndex uint32, auxArgs [][]byte, gas uint64) int {
	e.t.Helper()
	for calls := 1; calls <= 100; calls++ {
		status, err := e.perform(e.admin, serviceIndex, auxArgs, gas)
		require.NoError(e.t, err)
		if status == ongoing.StatusCompleted {
			return calls
		}
	}
	e.t.Fatal("batch did not complete")
	return 0
}

func (e *env) checkpoint() ongoing.Operation {
	e.t.Helper()
	var op ongoing.Operation
	e.query(e.subAddr, func(ctx *chain.Ctx) {
		var err error
		op, err = ongoing.Load(ctx.Store())
		require.NoError(e.t, err)
	})
	return op
}

func (e *env) funds(userID uint64) []models.Payment {
	e.t.Helper()
	var out []models.Payment
	e.query(e.feeAddr, func(ctx *chain.Ctx) {
		funds, err := subscriptionfee.UserFunds(ctx.Store(), userID)
		require.NoError(e.t, err)
		out = funds
	})
	return out
}

func (e *env) served(userID uint64) []byte {
	e.t.Helper()
	var out []byte
	e.query(e.subAddr, func(ctx *chain.Ctx) {
		out = ctx.Store().Get(servedKey(userID))
	})
	return out
}

func (e *env) balance(addr models.Address, token models.TokenID) math.Int {
	e.t.Helper()
	p, err := e.chain.Balance(addr, token, 0)
	require.NoError(e.t, err)
	return p.Amount
}

type snapshot struct {
	Funds        map[uint64][]models.Payment
	NextEpochs   map[uint64]uint64
	Served       map[uint64][]byte
	CallerUSDC   math.Int
	CallerReward math.Int
	Checkpoint   ongoing.Operation
}

func (e *env) snapshot(caller models.Address) snapshot {
	e.t.Helper()
	s := snapshot{
		Funds:        map[uint64][]models.Payment{},
		NextEpochs:   map[uint64]uint64{},
		Served:       map[uint64][]byte{},
		CallerUSDC:   e.balance(caller, usdc),
		CallerReward: e.balance(caller, reward),
		Checkpoint:   e.checkpoint(),
	}
	for _, id := range e.userIDs {
		s.Funds[id] = e.funds(id)
		s.Served[id] = e.served(id)
		e.query(e.feeAddr, func(ctx *chain.Ctx) {
			next, _, err := subscriptionfee.NextPaymentEpoch(id, e.serviceID, 0).Get(ctx.Store())
			require.NoError(e.t, err)
			s.NextEpochs[id] = next
		})
	}
	return s
}
