package service

import (
	"context"
	"errors"
	"fmt"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/node"
	"subfee/internal/subscriptionfee"
)

// ErrUnknownOption is returned for a service index the service never registered
var ErrUnknownOption = errors.New("unknown service option")

// FeeService prices service options through the fee contract's pairs
type FeeService struct {
	node   *node.Node
	logger *zap.Logger
}

// NewFeeService creates a new fee service
func NewFeeService(n *node.Node, logger *zap.Logger) *FeeService {
	return &FeeService{
		node:   n,
		logger: logger,
	}
}

// FeeQuote holds the price of one service option in a given token
type FeeQuote struct {
	ServiceID          uint64         `json:"service_id"`
	ServiceIndex       uint32         `json:"service_index"`
	Token              models.TokenID `json:"token"`
	Normal             math.Int       `json:"normal"`
	Premium            math.Int       `json:"premium"`
	SubscriptionEpochs uint64         `json:"subscription_epochs"`
}

// Quote prices option serviceIndex of serviceID in token. An empty token
// prices the option in the token it is denominated in.
//
// Options accepting any token and options priced in stable units are
// denominated in the stable token.
func (s *FeeService) Quote(ctx context.Context, serviceID uint64, serviceIndex uint32, token models.TokenID) (*FeeQuote, error) {
	fee := s.node.Fee
	var quote *FeeQuote

	err := s.node.Chain.Query(ctx, s.node.FeeAddress, func(call *chain.Ctx) error {
		descriptors, err := subscriptionfee.ServiceDescriptors(call.Store(), serviceID)
		if err != nil {
			return err
		}
		if int(serviceIndex) >= len(descriptors) {
			return fmt.Errorf("%w: service %d index %d", ErrUnknownOption, serviceID, serviceIndex)
		}
		d := descriptors[serviceIndex]

		base := d.PaymentToken
		if d.AnyToken() || d.AmountInStable {
			base = s.node.Tokens.Stable
		}
		if token == "" {
			token = base
		}

		normal, err := fee.Quote(call, base, d.NormalAmount, token)
		if err != nil {
			return fmt.Errorf("failed to price normal amount: %w", err)
		}
		premium := math.ZeroInt()
		if d.HasPremium() {
			if premium, err = fee.Quote(call, base, d.PremiumAmount, token); err != nil {
				return fmt.Errorf("failed to price premium amount: %w", err)
			}
		}

		quote = &FeeQuote{
			ServiceID:          serviceID,
			ServiceIndex:       serviceIndex,
			Token:              token,
			Normal:             normal,
			Premium:            premium,
			SubscriptionEpochs: d.SubscriptionEpochs,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Quoted service option",
		zap.Uint64("service_id", serviceID),
		zap.Uint32("service_index", serviceIndex),
		zap.String("token", string(token)),
		zap.String("normal", quote.Normal.String()),
		zap.String("premium", quote.Premium.String()))

	return quote, nil
}

// CalculateCoveredPayments returns how many payments of the option's normal
// amount the given funds cover
func (s *FeeService) CalculateCoveredPayments(ctx context.Context, serviceID uint64, serviceIndex uint32, funds models.Payment) (uint64, error) {
	quote, err := s.Quote(ctx, serviceID, serviceIndex, funds.Token)
	if err != nil {
		return 0, err
	}
	if !quote.Normal.IsPositive() {
		return 0, fmt.Errorf("option %d of service %d has no price in %s", serviceIndex, serviceID, funds.Token)
	}
	return funds.Amount.Quo(quote.Normal).Uint64(), nil
}
