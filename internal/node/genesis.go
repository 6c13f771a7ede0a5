package node

import (
	"context"
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/external"
	"subfee/internal/models"
	"subfee/internal/strategy"
	"subfee/internal/strategy/metabonding"
	"subfee/internal/strategy/mexlock"
	"subfee/internal/subscriber"
	"subfee/internal/subscriptionfee"
)

type genesisStep struct {
	name string
	run  func(ctx context.Context) error
}

func (n *Node) runGenesis(ctx context.Context) error {
	steps := []genesisStep{
		{"fee contract", n.initFeeContract},
		{"stable pair", n.initStablePair},
		{"mex pair", n.initMexPair},
		{"energy factory", n.initEnergyFactory},
		{"farm", n.initFarm},
		{"metabonding", n.initMetabonding},
	}
	for _, sub := range n.Subscribers() {
		sub := sub
		steps = append(steps, genesisStep{
			name: "subscriber " + sub.Name,
			run:  func(ctx context.Context) error { return n.initSubscriber(ctx, sub) },
		})
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		n.logger.Debug("Genesis step done", zap.String("step", step.name))
	}
	return nil
}

func (n *Node) initFeeContract(ctx context.Context) error {
	g := n.genesis
	return n.exec(ctx, n.FeeAddress, nil, func(call *chain.Ctx) error {
		if err := n.Fee.Init(call, subscriptionfee.InitArgs{
			Owner:               n.Owner,
			StableToken:         n.Tokens.Stable,
			AcceptedTokens:      []models.TokenID{n.Tokens.Wrapped},
			MinUserDepositValue: math.NewInt(g.MinUserDepositValue),
			MaxUserDeposits:     g.MaxUserDeposits,
			MaxPendingServices:  g.MaxPendingServices,
			MaxServiceInfoNo:    g.MaxServiceInfoNo,
			EnergyFactory:       n.EnergyFactoryAddress,
			EnergyThreshold:     math.NewInt(g.EnergyThreshold),
		}); err != nil {
			return err
		}
		return n.Fee.AddAdmins(call, n.Admins)
	})
}

// seedPool mints both reserves to the owner and deposits them in the pool
func (n *Node) seedPool(ctx context.Context, pool models.Address, pair *poolSpec) error {
	liquidity := []models.Payment{
		models.NewPayment(pair.first, 0, math.NewInt(pair.firstReserve)),
		models.NewPayment(pair.second, 0, math.NewInt(pair.secondReserve)),
	}
	if err := n.Chain.Mint(n.Owner, liquidity...); err != nil {
		return err
	}
	return n.exec(ctx, pool, liquidity, pair.contract.AddLiquidity)
}

func (n *Node) initStablePair(ctx context.Context) error {
	g := n.genesis
	err := n.exec(ctx, n.StablePairAddress, nil, func(call *chain.Ctx) error {
		return n.StablePair.Init(call, n.Owner, n.Tokens.Wrapped, n.Tokens.Stable)
	})
	if err != nil {
		return err
	}
	err = n.seedPool(ctx, n.StablePairAddress, &poolSpec{
		contract:      n.StablePair,
		first:         n.Tokens.Wrapped,
		firstReserve:  g.WrappedStableReserve,
		second:        n.Tokens.Stable,
		secondReserve: g.StableReserve,
	})
	if err != nil {
		return err
	}
	return n.exec(ctx, n.FeeAddress, nil, func(call *chain.Ctx) error {
		return n.Fee.AddPair(call, n.Tokens.Wrapped, n.StablePairAddress)
	})
}

func (n *Node) initMexPair(ctx context.Context) error {
	g := n.genesis
	err := n.exec(ctx, n.MexPairAddress, nil, func(call *chain.Ctx) error {
		return n.MexPair.Init(call, n.Owner, n.Tokens.Wrapped, n.Tokens.Mex)
	})
	if err != nil {
		return err
	}
	return n.seedPool(ctx, n.MexPairAddress, &poolSpec{
		contract:      n.MexPair,
		first:         n.Tokens.Wrapped,
		firstReserve:  g.WrappedMexReserve,
		second:        n.Tokens.Mex,
		secondReserve: g.MexReserve,
	})
}

func (n *Node) initEnergyFactory(ctx context.Context) error {
	return n.exec(ctx, n.EnergyFactoryAddress, nil, func(call *chain.Ctx) error {
		return n.EnergyFactory.Init(call, n.Owner, n.Tokens.Mex, n.Tokens.LockedMex)
	})
}

func (n *Node) initFarm(ctx context.Context) error {
	return n.exec(ctx, n.FarmAddress, nil, func(call *chain.Ctx) error {
		return n.Farm.Init(call, n.Owner, n.Tokens.Reward)
	})
}

func (n *Node) initMetabonding(ctx context.Context) error {
	signer := crypto.PubkeyToAddress(n.MetabondingSigner.PublicKey)
	return n.exec(ctx, n.MetabondingAddress, nil, func(call *chain.Ctx) error {
		return n.Metabonding.Init(call, n.Owner, signer)
	})
}

func (n *Node) initSubscriber(ctx context.Context, sub *Subscriber) error {
	g := n.genesis
	var callback models.Address
	switch sub.Name {
	case metabonding.Name:
		callback = n.MetabondingAddress
	case mexlock.Name:
	default:
		callback = n.FarmAddress
	}

	err := n.exec(ctx, sub.Address, nil, func(call *chain.Ctx) error {
		if err := sub.Contract.Init(call, subscriber.InitArgs{
			Owner:       n.Owner,
			FeeContract: n.FeeAddress,
			Admins:      n.Admins,
		}); err != nil {
			return err
		}
		if err := strategy.SetEnergyGate(call, n.EnergyFactoryAddress, math.NewInt(g.EnergyThreshold)); err != nil {
			return err
		}
		if sub.SwapsToMex() {
			percentages := mexlock.Percentages{
				Lock: g.LockPercentage,
				Fees: g.FeesPercentage,
				Burn: g.BurnPercentage,
			}
			if err := mexlock.Configure(call, mexlock.Config{
				MexToken:    n.Tokens.Mex,
				LockFactory: n.EnergyFactoryAddress,
				LockPeriod:  g.LockEpochs,
				Percentages: []mexlock.Percentages{percentages, percentages},
			}); err != nil {
				return err
			}
			if err := mexlock.AddMexPair(call, n.Tokens.Wrapped, n.MexPairAddress); err != nil {
				return err
			}
		}
		return sub.Contract.RegisterAtFeeContract(call, n.Options(callback))
	})
	if err != nil {
		return err
	}

	return n.exec(ctx, n.FeeAddress, nil, func(call *chain.Ctx) error {
		return n.Fee.ApproveService(call, sub.Address)
	})
}

type poolSpec struct {
	contract      *external.Pair
	first         models.TokenID
	firstReserve  int64
	second        models.TokenID
	secondReserve int64
}
