package service

import (
	"context"
	"sync"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/config"
	"subfee/internal/models"
	"subfee/internal/node"
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

func newTestNode(t *testing.T) *node.Node {
	t.Helper()
	c, err := chain.Open(chain.Config{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	n, err := node.New(context.Background(), c, testGenesis(), zap.NewNop())
	require.NoError(t, err)
	return n
}

func serviceID(t *testing.T, n *node.Node, name string) uint64 {
	t.Helper()
	sub, err := n.Subscriber(name)
	require.NoError(t, err)

	var id uint64
	require.NoError(t, n.Chain.Query(context.Background(), sub.Address, func(ctx *chain.Ctx) error {
		var err error
		id, err = subscriber.ServiceID(ctx)
		return err
	}))
	return id
}

// subscribeUsers deposits wrapped tokens for count new users and subscribes
// them to option 0 of the named subscriber
func subscribeUsers(t *testing.T, n *node.Node, name string, count int) {
	t.Helper()
	id := serviceID(t, n, name)
	for i := 0; i < count; i++ {
		user := chain.AccountAddress(name + "-user-" + string(rune('a'+i)))
		deposit := models.NewPayment(n.Tokens.Wrapped, 0, math.NewInt(1_000))
		require.NoError(t, n.Chain.Mint(user, deposit))

		_, err := n.Chain.Execute(context.Background(), chain.Tx{Caller: user, To: n.FeeAddress, Payments: []models.Payment{deposit}}, n.Fee.Deposit)
		require.NoError(t, err)
		_, err = n.Chain.Execute(context.Background(), chain.Tx{Caller: user, To: n.FeeAddress}, func(ctx *chain.Ctx) error {
			return n.Fee.Subscribe(ctx, []subscriptionfee.SubscriptionRequest{{ServiceID: id, ServiceIndex: 0}})
		})
		require.NoError(t, err)
	}
}

type memoryJournal struct {
	mu      sync.Mutex
	created int
	runs    map[string]models.OperationRun
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{runs: make(map[string]models.OperationRun)}
}

func (j *memoryJournal) CreateRun(_ context.Context, run *models.OperationRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.created++
	j.runs[run.ID] = *run
	return nil
}

func (j *memoryJournal) UpdateRun(_ context.Context, run *models.OperationRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs[run.ID] = *run
	return nil
}
