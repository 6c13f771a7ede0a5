package node

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/config"
	"subfee/internal/external"
	"subfee/internal/models"
	"subfee/internal/ongoing"
	"subfee/internal/strategy/farmboost"
	"subfee/internal/strategy/metabonding"
	"subfee/internal/strategy/mexlock"
	"subfee/internal/subscriber"
	"subfee/internal/subscriptionfee"
)

func testGenesis() config.GenesisConfig {
	return config.GenesisConfig{
		Owner:                "owner",
		Admins:               []string{"keeper"},
		StableToken:          "USDC-c76f1f",
		WrappedToken:         "WEGLD-bd4d79",
		MexToken:             "MEX-455c57",
		LockedMexToken:       "XMEX-fda355",
		RewardToken:          "RWD-a1b2c3",
		MaxUserDeposits:      10,
		MaxPendingServices:   10,
		MaxServiceInfoNo:     10,
		EnergyThreshold:      1_000_000,
		WrappedStableReserve: 1_000_000,
		StableReserve:        40_000_000,
		WrappedMexReserve:    1_000_000,
		MexReserve:           1_000_000_000,
		LockEpochs:           1_440,
		LockPercentage:       9_000,
		FeesPercentage:       800,
		BurnPercentage:       200,
		NormalFee:            100,
		PremiumFee:           150,
		SubscriptionEpochs:   1,
	}
}

type testNode struct {
	*Node
	t      *testing.T
	keeper models.Address
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	c, err := chain.Open(chain.Config{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	n, err := New(context.Background(), c, testGenesis(), zap.NewNop())
	require.NoError(t, err)
	return &testNode{Node: n, t: t, keeper: chain.AccountAddress("keeper")}
}

func (tn *testNode) exec(caller, to models.Address, gas uint64, payments []models.Payment, fn func(*chain.Ctx) error) error {
	_, err := tn.Chain.Execute(context.Background(), chain.Tx{
		Caller:   caller,
		To:       to,
		Payments: payments,
		GasLimit: gas,
	}, fn)
	return err
}

func (tn *testNode) mustExec(caller, to models.Address, payments []models.Payment, fn func(*chain.Ctx) error) {
	tn.t.Helper()
	require.NoError(tn.t, tn.exec(caller, to, 0, payments, fn))
}

func (tn *testNode) query(addr models.Address, fn func(*chain.Ctx)) {
	tn.t.Helper()
	require.NoError(tn.t, tn.Chain.Query(context.Background(), addr, func(ctx *chain.Ctx) error {
		fn(ctx)
		return nil
	}))
}

func (tn *testNode) subscriber(name string) *Subscriber {
	tn.t.Helper()
	sub, err := tn.Subscriber(name)
	require.NoError(tn.t, err)
	return sub
}

func (tn *testNode) serviceID(sub *Subscriber) uint64 {
	tn.t.Helper()
	var id uint64
	tn.query(sub.Address, func(ctx *chain.Ctx) {
		var err error
		id, err = subscriber.ServiceID(ctx)
		require.NoError(tn.t, err)
	})
	return id
}

// addUser funds a new user with wrapped tokens, deposits them and
// subscribes to the given options of sub
func (tn *testNode) addUser(seed string, sub *Subscriber, indexes ...uint32) (models.Address, uint64) {
	tn.t.Helper()
	addr := chain.AccountAddress(seed)
	deposit := models.NewPayment(tn.Tokens.Wrapped, 0, math.NewInt(1_000))
	require.NoError(tn.t, tn.Chain.Mint(addr, deposit))
	tn.mustExec(addr, tn.FeeAddress, []models.Payment{deposit}, tn.Fee.Deposit)

	serviceID := tn.serviceID(sub)
	requests := make([]subscriptionfee.SubscriptionRequest, len(indexes))
	for i, idx := range indexes {
		requests[i] = subscriptionfee.SubscriptionRequest{ServiceID: serviceID, ServiceIndex: idx}
	}
	tn.mustExec(addr, tn.FeeAddress, nil, func(ctx *chain.Ctx) error {
		return tn.Fee.Subscribe(ctx, requests)
	})

	var id uint64
	tn.query(tn.FeeAddress, func(ctx *chain.Ctx) {
		var err error
		id, err = subscriptionfee.UserIDs.GetIDNonZero(ctx.Store(), addr)
		require.NoError(tn.t, err)
	})
	return addr, id
}

func (tn *testNode) perform(sub *Subscriber, serviceIndex uint32, auxArgs [][]byte, gas uint64) (ongoing.Status, error) {
	var status ongoing.Status
	err := tn.exec(tn.keeper, sub.Address, gas, nil, func(ctx *chain.Ctx) error {
		var err error
		status, err = sub.Contract.PerformService(ctx, serviceIndex, auxArgs)
		return err
	})
	return status, err
}

func (tn *testNode) mexOperations(sub *Subscriber, serviceIndex uint32, gas uint64) (ongoing.Status, error) {
	var status ongoing.Status
	err := tn.exec(tn.keeper, sub.Address, gas, nil, func(ctx *chain.Ctx) error {
		var err error
		status, err = sub.Mex.PerformMexOperations(ctx, serviceIndex, math.OneInt())
		return err
	})
	return status, err
}

func (tn *testNode) balance(addr models.Address, token models.TokenID, nonce uint64) math.Int {
	tn.t.Helper()
	p, err := tn.Chain.Balance(addr, token, nonce)
	require.NoError(tn.t, err)
	return p.Amount
}

func (tn *testNode) pendingFeeUsers(sub *Subscriber, serviceIndex uint32) uint64 {
	tn.t.Helper()
	var n uint64
	tn.query(sub.Address, func(ctx *chain.Ctx) {
		var err error
		n, err = subscriber.PendingFeeUsers(serviceIndex).Len(ctx.Store())
		require.NoError(tn.t, err)
	})
	return n
}

func (tn *testNode) totalFees(sub *Subscriber) math.Int {
	tn.t.Helper()
	var amount math.Int
	tn.query(sub.Address, func(ctx *chain.Ctx) {
		funds, err := subscriber.TotalFees(ctx.Store())
		require.NoError(tn.t, err)
		amount = funds.Balance(tn.Tokens.Wrapped, 0)
	})
	return amount
}

func (tn *testNode) checkpoint(sub *Subscriber) ongoing.Operation {
	tn.t.Helper()
	var op ongoing.Operation
	tn.query(sub.Address, func(ctx *chain.Ctx) {
		var err error
		op, err = ongoing.Load(ctx.Store())
		require.NoError(tn.t, err)
	})
	return op
}

func TestGenesis(t *testing.T) {
	tn := newTestNode(t)

	names := make([]string, 0, 3)
	for _, sub := range tn.Subscribers() {
		names = append(names, sub.Name)
		serviceID := tn.serviceID(sub)
		require.NotZero(t, serviceID, sub.Name)

		tn.query(tn.FeeAddress, func(ctx *chain.Ctx) {
			descriptors, err := subscriptionfee.ServiceDescriptors(ctx.Store(), serviceID)
			require.NoError(t, err)
			require.Len(t, descriptors, 2)
		})
	}
	require.Equal(t, []string{farmboost.Name, metabonding.Name, mexlock.Name}, names)

	farm := tn.subscriber(farmboost.Name)
	require.NotNil(t, farm.Mex)
	require.Nil(t, tn.subscriber(metabonding.Name).Mex)

	_, err := tn.Subscriber("missing")
	require.ErrorIs(t, err, ErrUnknownSubscriber)

	// deposits of the wrapped token are priced through the stable pair
	reserveWrapped, reserveStable, err := pairReserves(tn)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), reserveWrapped.Int64())
	require.Equal(t, int64(40_000_000), reserveStable.Int64())
}

func pairReserves(tn *testNode) (math.Int, math.Int, error) {
	var first, second math.Int
	err := tn.Chain.Query(context.Background(), tn.StablePairAddress, func(ctx *chain.Ctx) error {
		var err error
		first, second, err = tn.StablePair.Reserves(ctx.Store())
		return err
	})
	return first, second, err
}

func TestGenesisRunsOnce(t *testing.T) {
	dir := t.TempDir()
	genesis := testGenesis()

	c, err := chain.Open(chain.Config{Backend: chain.BackendGoLevelDB, DataDir: dir}, zap.NewNop())
	require.NoError(t, err)
	n, err := New(context.Background(), c, genesis, zap.NewNop())
	require.NoError(t, err)
	tn := &testNode{Node: n, t: t}
	_, userID := tn.addUser("user-0", tn.subscriber(mexlock.Name), 0)
	firstServiceID := tn.serviceID(tn.subscriber(mexlock.Name))
	require.NoError(t, c.Close())

	c, err = chain.Open(chain.Config{Backend: chain.BackendGoLevelDB, DataDir: dir}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	n, err = New(context.Background(), c, genesis, zap.NewNop())
	require.NoError(t, err)
	tn = &testNode{Node: n, t: t}

	require.Equal(t, firstServiceID, tn.serviceID(tn.subscriber(mexlock.Name)))
	tn.query(tn.FeeAddress, func(ctx *chain.Ctx) {
		funds, err := subscriptionfee.UserFunds(ctx.Store(), userID)
		require.NoError(t, err)
		require.Equal(t, int64(1_000), funds.Balance(tn.Tokens.Wrapped, 0).Int64())
	})
	// pools were seeded a single time
	reserveWrapped, _, err := pairReserves(tn)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), reserveWrapped.Int64())
}

func TestFarmBoostThenMexOperations(t *testing.T) {
	tn := newTestNode(t)
	sub := tn.subscriber(farmboost.Name)

	users := make([]models.Address, 3)
	for i := range users {
		users[i], _ = tn.addUser("farmer-"+string(rune('a'+i)), sub, 0)
	}

	// the first user lets the subscriber claim, the second does not
	tn.mustExec(users[0], tn.FarmAddress, nil, func(ctx *chain.Ctx) error {
		return tn.Farm.SetAllowExternalClaim(ctx, true)
	})
	tn.mustExec(tn.Owner, tn.FarmAddress, nil, func(ctx *chain.Ctx) error {
		if err := tn.Farm.AccrueRewards(ctx, users[0], math.NewInt(70)); err != nil {
			return err
		}
		return tn.Farm.AccrueRewards(ctx, users[1], math.NewInt(30))
	})
	require.NoError(t, tn.Chain.SetEpoch(1))

	status, err := tn.perform(sub, 0, nil, 0)
	require.NoError(t, err)
	require.Equal(t, ongoing.StatusCompleted, status)

	require.Equal(t, int64(70), tn.balance(users[0], tn.Tokens.Reward, 0).Int64())
	require.True(t, tn.balance(users[1], tn.Tokens.Reward, 0).IsZero())
	tn.query(tn.FarmAddress, func(ctx *chain.Ctx) {
		pending, err := tn.Farm.PendingRewards(ctx, users[1])
		require.NoError(t, err)
		require.Equal(t, int64(30), pending.Int64())
	})

	// fees stay in the subscriber until converted
	require.Equal(t, uint64(3), tn.pendingFeeUsers(sub, 0))
	require.Equal(t, int64(300), tn.balance(sub.Address, tn.Tokens.Wrapped, 0).Int64())
	require.True(t, tn.balance(tn.keeper, tn.Tokens.Wrapped, 0).IsZero())

	status, err = tn.mexOperations(sub, 0, 0)
	require.NoError(t, err)
	require.Equal(t, ongoing.StatusCompleted, status)

	percentages := mexlock.Percentages{Lock: 9_000, Fees: 800, Burn: 200}
	amounts := percentages.Split(math.NewInt(300))
	bought := external.AmountOut(amounts.Sell(), math.NewInt(1_000_000), math.NewInt(1_000_000_000))
	toLock := percentages.LockShare(bought)

	lockNonce := uint64(1 + 1_440)
	locked := math.ZeroInt()
	for _, user := range users {
		share := tn.balance(user, tn.Tokens.LockedMex, lockNonce)
		require.True(t, share.IsPositive())
		locked = locked.Add(share)
	}
	require.True(t, toLock.Equal(locked), "locked %s, expected %s", locked, toLock)

	require.Zero(t, tn.pendingFeeUsers(sub, 0))
	require.True(t, tn.balance(sub.Address, tn.Tokens.Mex, 0).IsZero())
	require.True(t, amounts.Fees.Equal(tn.totalFees(sub)))
	require.True(t, amounts.Fees.Equal(tn.balance(sub.Address, tn.Tokens.Wrapped, 0)))
	require.Equal(t, ongoing.KindIdle, tn.checkpoint(sub).Kind())

	tn.mustExec(tn.Owner, sub.Address, nil, func(ctx *chain.Ctx) error {
		_, err := sub.Contract.ClaimFees(ctx)
		return err
	})
	require.True(t, amounts.Fees.Equal(tn.balance(tn.Owner, tn.Tokens.Wrapped, 0)))
	require.True(t, tn.totalFees(sub).IsZero())
}

func TestMexOperationsResumeAcrossCalls(t *testing.T) {
	tn := newTestNode(t)
	sub := tn.subscriber(farmboost.Name)

	users := make([]models.Address, 6)
	for i := range users {
		users[i], _ = tn.addUser("farmer-"+string(rune('a'+i)), sub, 0)
	}
	require.NoError(t, tn.Chain.SetEpoch(1))

	status, err := tn.perform(sub, 0, nil, 0)
	require.NoError(t, err)
	require.Equal(t, ongoing.StatusCompleted, status)
	require.Equal(t, uint64(6), tn.pendingFeeUsers(sub, 0))

	calls := 0
	for status = ongoing.StatusInterrupted; status != ongoing.StatusCompleted; calls++ {
		require.Less(t, calls, len(users), "mex operations did not complete")
		status, err = tn.mexOperations(sub, 0, 1_000_000)
		require.NoError(t, err)
		if status == ongoing.StatusInterrupted {
			require.Equal(t, ongoing.KindMexOperations, tn.checkpoint(sub).Kind())
		} else {
			// completed only once nothing is pending
			require.Zero(t, tn.pendingFeeUsers(sub, 0))
			require.Equal(t, ongoing.KindIdle, tn.checkpoint(sub).Kind())
		}
	}
	require.Greater(t, calls, 1)

	for _, user := range users {
		require.True(t, tn.balance(user, tn.Tokens.LockedMex, 1+1_440).IsPositive())
	}
	require.Zero(t, tn.pendingFeeUsers(sub, 0))
	require.True(t, tn.balance(sub.Address, tn.Tokens.Mex, 0).IsZero())
	// everything not kept as fees was sold
	require.True(t, tn.totalFees(sub).Equal(tn.balance(sub.Address, tn.Tokens.Wrapped, 0)))
	require.Equal(t, ongoing.KindIdle, tn.checkpoint(sub).Kind())
}

func TestMexOperationsConflictWithInterruptedBatch(t *testing.T) {
	tn := newTestNode(t)
	sub := tn.subscriber(farmboost.Name)
	for i := 0; i < 6; i++ {
		tn.addUser("farmer-"+string(rune('a'+i)), sub, 0)
	}
	require.NoError(t, tn.Chain.SetEpoch(1))

	status, err := tn.perform(sub, 0, nil, 800_000)
	require.NoError(t, err)
	require.Equal(t, ongoing.StatusInterrupted, status)

	_, err = tn.mexOperations(sub, 0, 0)
	require.ErrorIs(t, err, ongoing.ErrConflictingOperation)

	for status != ongoing.StatusCompleted {
		status, err = tn.perform(sub, 0, nil, 0)
		require.NoError(t, err)
	}
	status, err = tn.mexOperations(sub, 0, 0)
	require.NoError(t, err)
	require.Equal(t, ongoing.StatusCompleted, status)
}

func TestMexOperationsRequireAdmin(t *testing.T) {
	tn := newTestNode(t)
	sub := tn.subscriber(farmboost.Name)
	user, _ := tn.addUser("farmer", sub, 0)

	err := tn.exec(user, sub.Address, 0, nil, func(ctx *chain.Ctx) error {
		_, err := sub.Mex.PerformMexOperations(ctx, 0, math.OneInt())
		return err
	})
	require.Error(t, err)
}

func TestBuyAndLock(t *testing.T) {
	tn := newTestNode(t)
	sub := tn.subscriber(mexlock.Name)

	users := make([]models.Address, 2)
	for i := range users {
		users[i], _ = tn.addUser("locker-"+string(rune('a'+i)), sub, 0)
	}
	require.NoError(t, tn.Chain.SetEpoch(1))

	status, err := tn.perform(sub, 0, nil, 0)
	require.NoError(t, err)
	require.Equal(t, ongoing.StatusCompleted, status)

	percentages := mexlock.Percentages{Lock: 9_000, Fees: 800, Burn: 200}
	amounts := percentages.Split(math.NewInt(100))
	for _, user := range users {
		require.True(t, tn.balance(user, tn.Tokens.LockedMex, 1+1_440).IsPositive())
	}
	feesKept := amounts.Fees.MulRaw(int64(len(users)))
	require.True(t, feesKept.Equal(tn.totalFees(sub)))
	require.True(t, feesKept.Equal(tn.balance(sub.Address, tn.Tokens.Wrapped, 0)))
	require.True(t, tn.balance(sub.Address, tn.Tokens.Mex, 0).IsZero())
	require.Zero(t, tn.pendingFeeUsers(sub, 0))
	// the fee was consumed, nothing reaches the caller
	require.True(t, tn.balance(tn.keeper, tn.Tokens.Wrapped, 0).IsZero())

	// the user's energy grew with the lock
	tn.query(tn.EnergyFactoryAddress, func(ctx *chain.Ctx) {
		energy, err := tn.EnergyFactory.Energy(ctx, users[0])
		require.NoError(t, err)
		require.True(t, energy.IsPositive())
	})
}

func TestBuyAndLockStaysWithinGasLimit(t *testing.T) {
	for gas := uint64(250_000); gas <= 3_000_000; gas += 10_000 {
		tn := newTestNode(t)
		sub := tn.subscriber(mexlock.Name)
		for i := 0; i < 3; i++ {
			tn.addUser("locker-"+string(rune('a'+i)), sub, 0)
		}
		require.NoError(t, tn.Chain.SetEpoch(1))

		status, err := tn.perform(sub, 0, nil, gas)
		require.NoError(t, err, "gas limit %d", gas)
		switch status {
		case ongoing.StatusCompleted:
			require.Equal(t, ongoing.KindIdle, tn.checkpoint(sub).Kind(), "gas limit %d", gas)
		case ongoing.StatusInterrupted:
			require.Equal(t, ongoing.KindServiceBatch, tn.checkpoint(sub).Kind(), "gas limit %d", gas)
		default:
			t.Fatalf("gas limit %d: unexpected status %q", gas, status)
		}
	}
}

func TestMetabondingClaims(t *testing.T) {
	tn := newTestNode(t)
	sub := tn.subscriber(metabonding.Name)
	user, _ := tn.addUser("bonder", sub, 0, 1)

	pool := models.NewPayment(tn.Tokens.Reward, 0, math.NewInt(1_000))
	require.NoError(t, tn.Chain.Mint(tn.Owner, pool))
	tn.mustExec(tn.Owner, tn.MetabondingAddress, []models.Payment{pool}, func(ctx *chain.Ctx) error {
		return tn.Metabonding.AddWeeklyRewards(ctx, 1, math.NewInt(1_000))
	})

	claim := func(week uint64) []byte {
		delegation, lkmex := math.NewInt(100), math.NewInt(150)
		signature, err := external.SignClaim(tn.MetabondingSigner, user, week, delegation, lkmex)
		require.NoError(t, err)
		args, err := metabonding.ClaimArgs{
			Week:        week,
			Delegation:  models.IntToBig(delegation),
			LkmexStaked: models.IntToBig(lkmex),
			Signature:   signature,
		}.Encode()
		require.NoError(t, err)
		return args
	}
	hasClaimed := func() bool {
		var done bool
		tn.query(tn.MetabondingAddress, func(ctx *chain.Ctx) {
			var err error
			done, err = tn.Metabonding.HasClaimed(ctx, user, 1)
			require.NoError(t, err)
		})
		return done
	}
	require.NoError(t, tn.Chain.SetEpoch(1))

	t.Run("premium option needs energy", func(t *testing.T) {
		status, err := tn.perform(sub, 1, [][]byte{claim(1)}, 0)
		require.NoError(t, err)
		require.Equal(t, ongoing.StatusCompleted, status)

		require.False(t, hasClaimed())
		require.True(t, tn.balance(tn.keeper, tn.Tokens.Reward, 0).IsZero())
		// the user was charged and the fee went to the caller
		require.Equal(t, int64(100), tn.balance(tn.keeper, tn.Tokens.Wrapped, 0).Int64())
	})

	t.Run("normal option claims", func(t *testing.T) {
		status, err := tn.perform(sub, 0, [][]byte{claim(1)}, 0)
		require.NoError(t, err)
		require.Equal(t, ongoing.StatusCompleted, status)

		require.True(t, hasClaimed())
		require.Equal(t, int64(250), tn.balance(tn.keeper, tn.Tokens.Reward, 0).Int64())
		require.Equal(t, int64(200), tn.balance(tn.keeper, tn.Tokens.Wrapped, 0).Int64())
	})

	t.Run("energetic users pay the premium amount", func(t *testing.T) {
		tn.mustExec(tn.Owner, tn.EnergyFactoryAddress, nil, func(ctx *chain.Ctx) error {
			return tn.EnergyFactory.SetEnergy(ctx, user, math.NewInt(2_000_000))
		})
		require.NoError(t, tn.Chain.SetEpoch(2))

		// the week is claimed already; the strategy fails and the fee is kept
		status, err := tn.perform(sub, 1, [][]byte{claim(1)}, 0)
		require.NoError(t, err)
		require.Equal(t, ongoing.StatusCompleted, status)
		require.Equal(t, int64(350), tn.balance(tn.keeper, tn.Tokens.Wrapped, 0).Int64())
		require.Equal(t, int64(250), tn.balance(tn.keeper, tn.Tokens.Reward, 0).Int64())
	})
}
