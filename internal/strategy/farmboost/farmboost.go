// Package farmboost claims boosted farm rewards for subscribers. The
// option's callback address is the farm; rewards go straight to the user
// and the fee stays pending until the MEX operations convert it.
package farmboost

import (
	"errors"

	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/strategy"
	"subfee/internal/subscriber"
)

// Name identifies the strategy
const Name = "farm-boost"

var ErrNoFarm = errors.New("service option has no farm address")

// Farm is the part of a farm contract the strategy calls
type Farm interface {
	chain.Contract
	AllowsExternalClaim(ctx *chain.Ctx, user models.Address) (bool, error)
	ClaimBoostedRewards(ctx *chain.Ctx, user models.Address) (models.Payment, error)
}

// Strategy claims boosted rewards on behalf of users who allow it
type Strategy struct {
	logger *zap.Logger
}

var _ subscriber.Strategy = (*Strategy)(nil)

// New returns the strategy
func New(logger *zap.Logger) *Strategy {
	return &Strategy{logger: logger.Named("farmboost")}
}

// Name implements subscriber.Strategy
func (s *Strategy) Name() string { return Name }

// GasPerUser implements subscriber.Strategy
func (s *Strategy) GasPerUser() uint64 { return 200_000 }

// PerformAction implements subscriber.Strategy. Users who did not allow
// external claims are skipped without failing.
func (s *Strategy) PerformAction(ctx *chain.Ctx, req subscriber.ActionRequest) (subscriber.ActionResult, error) {
	farm := req.Service.CallbackAddress
	if farm.IsZero() {
		return subscriber.ActionResult{}, ErrNoFarm
	}
	if err := strategy.RequirePremium(ctx, req.ServiceIndex, req.User); err != nil {
		return subscriber.ActionResult{}, err
	}

	pending := subscriber.ActionResult{Fee: subscriber.FeePending}
	err := chain.Invoke(ctx, farm, nil, func(f Farm, call *chain.Ctx) error {
		allowed, err := f.AllowsExternalClaim(call, req.User)
		if err != nil {
			return err
		}
		if !allowed {
			s.logger.Debug("External claim not allowed",
				zap.String("user", req.User.String()))
			return nil
		}

		rewards, err := f.ClaimBoostedRewards(call, req.User)
		if err != nil {
			return err
		}
		s.logger.Debug("Boosted rewards claimed",
			zap.String("user", req.User.String()),
			zap.String("rewards", rewards.String()))
		return nil
	})
	if err != nil {
		return subscriber.ActionResult{}, err
	}
	return pending, nil
}
