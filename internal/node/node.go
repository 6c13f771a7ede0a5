// Package node assembles a devnet: the subscription fee contract, the pools
// and farm it prices and claims through, and one subscriber deployment per
// strategy.
package node

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/config"
	"subfee/internal/external"
	"subfee/internal/models"
	"subfee/internal/strategy/farmboost"
	"subfee/internal/strategy/metabonding"
	"subfee/internal/strategy/mexlock"
	"subfee/internal/subscriber"
	"subfee/internal/subscriptionfee"
)

var ErrUnknownSubscriber = errors.New("unknown subscriber")

// Tokens are the token ids of the devnet
type Tokens struct {
	Stable    models.TokenID
	Wrapped   models.TokenID
	Mex       models.TokenID
	LockedMex models.TokenID
	Reward    models.TokenID
}

// Subscriber is one subscriber deployment
type Subscriber struct {
	Name     string
	Address  models.Address
	Contract *subscriber.Contract
	// Mex converts pending fees; nil when the strategy leaves none
	Mex *mexlock.Operations
}

// SwapsToMex reports whether the subscriber keeps a MEX conversion setup
func (s *Subscriber) SwapsToMex() bool {
	return s.Name != metabonding.Name
}

// Node holds the deployed contracts
type Node struct {
	Chain  *chain.Chain
	Owner  models.Address
	Admins []models.Address
	Tokens Tokens

	Fee        *subscriptionfee.Contract
	FeeAddress models.Address

	StablePair        *external.Pair
	StablePairAddress models.Address
	MexPair           *external.Pair
	MexPairAddress    models.Address

	EnergyFactory        *external.EnergyFactory
	EnergyFactoryAddress models.Address
	Farm                 *external.Farm
	FarmAddress          models.Address
	Metabonding          *external.Metabonding
	MetabondingAddress   models.Address
	MetabondingSigner    *ecdsa.PrivateKey

	subscribers map[string]*Subscriber
	genesis     config.GenesisConfig
	logger      *zap.Logger
}

// New deploys the devnet contracts on c. Genesis runs only when the fee
// contract holds no state yet, so a persistent chain is reopened as is.
func New(ctx context.Context, c *chain.Chain, genesis config.GenesisConfig, logger *zap.Logger) (*Node, error) {
	signer, err := signerKey(genesis)
	if err != nil {
		return nil, err
	}

	n := &Node{
		Chain: c,
		Owner: chain.AccountAddress(genesis.Owner),
		Tokens: Tokens{
			Stable:    models.TokenID(genesis.StableToken),
			Wrapped:   models.TokenID(genesis.WrappedToken),
			Mex:       models.TokenID(genesis.MexToken),
			LockedMex: models.TokenID(genesis.LockedMexToken),
			Reward:    models.TokenID(genesis.RewardToken),
		},
		Fee:               subscriptionfee.New(logger),
		StablePair:        external.NewPair(logger),
		MexPair:           external.NewPair(logger),
		EnergyFactory:     external.NewEnergyFactory(logger),
		Farm:              external.NewFarm(logger),
		Metabonding:       external.NewMetabonding(logger),
		MetabondingSigner: signer,
		subscribers:       make(map[string]*Subscriber),
		genesis:           genesis,
		logger:            logger.Named("node"),
	}
	for _, seed := range genesis.Admins {
		n.Admins = append(n.Admins, chain.AccountAddress(seed))
	}

	if err := n.deploy(logger); err != nil {
		return nil, err
	}

	initialized, err := n.initialized(ctx)
	if err != nil {
		return nil, err
	}
	if initialized {
		n.logger.Info("Devnet state found, skipping genesis",
			zap.String("fee_contract", n.FeeAddress.String()))
		return n, nil
	}

	if err := n.runGenesis(ctx); err != nil {
		return nil, fmt.Errorf("genesis failed: %w", err)
	}
	n.logger.Info("Devnet genesis completed",
		zap.String("fee_contract", n.FeeAddress.String()),
		zap.Int("subscribers", len(n.subscribers)))
	return n, nil
}

func signerKey(genesis config.GenesisConfig) (*ecdsa.PrivateKey, error) {
	if genesis.MetabondingKey != "" {
		key, err := crypto.HexToECDSA(genesis.MetabondingKey)
		if err != nil {
			return nil, fmt.Errorf("invalid metabonding key: %w", err)
		}
		return key, nil
	}
	// devnet default, stable across restarts
	return crypto.ToECDSA(crypto.Keccak256([]byte("metabonding:" + genesis.Owner)))
}

func (n *Node) deploy(logger *zap.Logger) error {
	var err error
	deploy := func(salt string, contract chain.Contract) models.Address {
		if err != nil {
			return models.Address{}
		}
		var addr models.Address
		addr, err = n.Chain.Deploy(n.Owner, salt, contract)
		return addr
	}

	n.FeeAddress = deploy("subscription-fee", n.Fee)
	n.StablePairAddress = deploy("pair:stable", n.StablePair)
	n.MexPairAddress = deploy("pair:mex", n.MexPair)
	n.EnergyFactoryAddress = deploy("energy-factory", n.EnergyFactory)
	n.FarmAddress = deploy("farm", n.Farm)
	n.MetabondingAddress = deploy("metabonding", n.Metabonding)

	strategies := []struct {
		strategy subscriber.Strategy
		mex      bool
	}{
		{farmboost.New(logger), true},
		{mexlock.NewBuyAndLock(logger), false},
		{metabonding.New(logger), false},
	}
	for _, s := range strategies {
		sub := &Subscriber{
			Name:     s.strategy.Name(),
			Contract: subscriber.New(s.strategy, logger),
		}
		if s.mex {
			sub.Mex = mexlock.NewOperations(logger)
		}
		sub.Address = deploy("subscriber:"+sub.Name, sub.Contract)
		n.subscribers[sub.Name] = sub
	}
	return err
}

func (n *Node) initialized(ctx context.Context) (bool, error) {
	var initialized bool
	err := n.Chain.Query(ctx, n.FeeAddress, func(call *chain.Ctx) error {
		_, ownerErr := access.Owner(call.Store())
		initialized = ownerErr == nil
		return nil
	})
	return initialized, err
}

// Subscriber returns the deployment running the named strategy
func (n *Node) Subscriber(name string) (*Subscriber, error) {
	sub, ok := n.subscribers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubscriber, name)
	}
	return sub, nil
}

// Subscribers returns every deployment ordered by name
func (n *Node) Subscribers() []*Subscriber {
	out := make([]*Subscriber, 0, len(n.subscribers))
	for _, sub := range n.subscribers {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Options returns the service options every subscriber registers: the
// normal one and the energy gated premium one
func (n *Node) Options(callback models.Address) []subscriptionfee.ServiceDescriptor {
	option := subscriptionfee.ServiceDescriptor{
		PaymentToken:       n.Tokens.Wrapped,
		NormalAmount:       math.NewInt(n.genesis.NormalFee),
		PremiumAmount:      math.NewInt(n.genesis.PremiumFee),
		SubscriptionEpochs: n.genesis.SubscriptionEpochs,
		CallbackAddress:    callback,
	}
	return []subscriptionfee.ServiceDescriptor{option, option}
}

func (n *Node) exec(ctx context.Context, to models.Address, payments []models.Payment, fn func(*chain.Ctx) error) error {
	_, err := n.Chain.Execute(ctx, chain.Tx{Caller: n.Owner, To: to, Payments: payments}, fn)
	return err
}

// Keeper returns the account the node drives batch endpoints with: the first
// configured admin, or the owner when there is none
func (n *Node) Keeper() models.Address {
	if len(n.Admins) > 0 {
		return n.Admins[0]
	}
	return n.Owner
}
