// Package metabonding claims weekly metabonding rewards for subscribers.
// Every user needs a signed claim, passed as the user's auxiliary argument
// of the batch; the option's callback address is the metabonding contract.
package metabonding

import (
	"errors"
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/strategy"
	"subfee/internal/subscriber"
)

// Name identifies the strategy
const Name = "metabonding"

var (
	ErrMissingClaimArgs = errors.New("missing claim arguments")
	ErrNoDistributor    = errors.New("service option has no metabonding address")
)

// ClaimArgs is one user's signed weekly claim
type ClaimArgs struct {
	Week        uint64
	Delegation  *big.Int
	LkmexStaked *big.Int
	Signature   []byte
}

// Encode returns the auxiliary argument form of the claim
func (a ClaimArgs) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(a)
}

// DecodeClaimArgs parses an auxiliary argument
func DecodeClaimArgs(b []byte) (ClaimArgs, error) {
	if len(b) == 0 {
		return ClaimArgs{}, ErrMissingClaimArgs
	}
	var args ClaimArgs
	if err := rlp.DecodeBytes(b, &args); err != nil {
		return ClaimArgs{}, fmt.Errorf("invalid claim arguments: %w", err)
	}
	return args, nil
}

// Distributor is the claim side of a metabonding contract
type Distributor interface {
	chain.Contract
	ClaimRewards(
		ctx *chain.Ctx,
		user models.Address,
		week uint64,
		delegation, lkmexStaked math.Int,
		signature []byte,
	) ([]models.Payment, error)
}

// Strategy forwards each user's claim and returns what it pays out
type Strategy struct {
	logger *zap.Logger
}

var _ subscriber.Strategy = (*Strategy)(nil)

// New returns the strategy
func New(logger *zap.Logger) *Strategy {
	return &Strategy{logger: logger.Named("metabonding")}
}

// Name implements subscriber.Strategy
func (s *Strategy) Name() string { return Name }

// GasPerUser implements subscriber.Strategy
func (s *Strategy) GasPerUser() uint64 { return 250_000 }

// PerformAction implements subscriber.Strategy
func (s *Strategy) PerformAction(ctx *chain.Ctx, req subscriber.ActionRequest) (subscriber.ActionResult, error) {
	distributor := req.Service.CallbackAddress
	if distributor.IsZero() {
		return subscriber.ActionResult{}, ErrNoDistributor
	}
	args, err := DecodeClaimArgs(req.Arg)
	if err != nil {
		return subscriber.ActionResult{}, err
	}
	if err := strategy.RequirePremium(ctx, req.ServiceIndex, req.User); err != nil {
		return subscriber.ActionResult{}, err
	}

	var rewards []models.Payment
	err = chain.Invoke(ctx, distributor, nil, func(d Distributor, call *chain.Ctx) error {
		var claimErr error
		rewards, claimErr = d.ClaimRewards(call, req.User, args.Week,
			models.BigToInt(args.Delegation), models.BigToInt(args.LkmexStaked), args.Signature)
		return claimErr
	})
	if err != nil {
		return subscriber.ActionResult{}, err
	}

	s.logger.Debug("Metabonding rewards claimed",
		zap.Uint64("user_id", req.UserID),
		zap.Uint64("week", args.Week),
		zap.Int("tokens", len(rewards)))

	return subscriber.ActionResult{Rewards: rewards, Fee: subscriber.FeeToCaller}, nil
}
