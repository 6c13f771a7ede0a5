package subscriptionfee

import (
	"fmt"
	"io"
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/rlp"

	"subfee/internal/models"
)

// Cadence overrides the subscription interval of a service option
type Cadence uint8

const (
	CadenceNone    Cadence = 0
	CadenceDaily   Cadence = 1
	CadenceWeekly  Cadence = 7
	CadenceMonthly Cadence = 30
)

// Epochs returns the interval the cadence stands for, zero for none
func (c Cadence) Epochs() uint64 {
	return uint64(c)
}

// Valid reports whether c is a known cadence
func (c Cadence) Valid() bool {
	switch c {
	case CadenceNone, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

func (c Cadence) String() string {
	switch c {
	case CadenceNone:
		return "none"
	case CadenceDaily:
		return "daily"
	case CadenceWeekly:
		return "weekly"
	case CadenceMonthly:
		return "monthly"
	default:
		return fmt.Sprintf("cadence(%d)", uint8(c))
	}
}

// ParseCadence maps the textual form back to a Cadence
func ParseCadence(s string) (Cadence, error) {
	switch s {
	case "", "none":
		return CadenceNone, nil
	case "daily":
		return CadenceDaily, nil
	case "weekly":
		return CadenceWeekly, nil
	case "monthly":
		return CadenceMonthly, nil
	default:
		return CadenceNone, fmt.Errorf("unknown cadence %q", s)
	}
}

// ServiceDescriptor is one payable option of a registered service
type ServiceDescriptor struct {
	// PaymentToken is the required token. Empty means any accepted token,
	// priced in the stable token.
	PaymentToken models.TokenID `json:"payment_token,omitempty"`
	// AmountInStable prices a specific PaymentToken in stable units
	AmountInStable bool     `json:"amount_in_stable"`
	NormalAmount   math.Int `json:"normal_amount"`
	// PremiumAmount is charged to users above the energy threshold. Zero
	// disables the premium tier.
	PremiumAmount      math.Int       `json:"premium_amount"`
	SubscriptionEpochs uint64         `json:"subscription_epochs"`
	CallbackAddress    models.Address `json:"callback_address"`
	// EndpointPayment is the token the service takes from the user's
	// deposited tokens for every charge and hands to its strategy. Empty
	// means none.
	EndpointPayment models.TokenID `json:"endpoint_payment,omitempty"`
}

// HasPremium reports whether the option has a premium tier
func (d ServiceDescriptor) HasPremium() bool {
	return !d.PremiumAmount.IsNil() && d.PremiumAmount.IsPositive()
}

// AnyToken reports whether the option accepts any deposited token
func (d ServiceDescriptor) AnyToken() bool {
	return d.PaymentToken == ""
}

type descriptorRLP struct {
	PaymentToken       string
	AmountInStable     bool
	NormalAmount       *big.Int
	PremiumAmount      *big.Int
	SubscriptionEpochs uint64
	CallbackAddress    models.Address
	EndpointPayment    string
}

// EncodeRLP implements rlp.Encoder
func (d ServiceDescriptor) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, descriptorRLP{
		PaymentToken:       string(d.PaymentToken),
		AmountInStable:     d.AmountInStable,
		NormalAmount:       models.IntToBig(d.NormalAmount),
		PremiumAmount:      models.IntToBig(d.PremiumAmount),
		SubscriptionEpochs: d.SubscriptionEpochs,
		CallbackAddress:    d.CallbackAddress,
		EndpointPayment:    string(d.EndpointPayment),
	})
}

// DecodeRLP implements rlp.Decoder
func (d *ServiceDescriptor) DecodeRLP(s *rlp.Stream) error {
	var raw descriptorRLP
	if err := s.Decode(&raw); err != nil {
		return err
	}
	*d = ServiceDescriptor{
		PaymentToken:       models.TokenID(raw.PaymentToken),
		AmountInStable:     raw.AmountInStable,
		NormalAmount:       models.BigToInt(raw.NormalAmount),
		PremiumAmount:      models.BigToInt(raw.PremiumAmount),
		SubscriptionEpochs: raw.SubscriptionEpochs,
		CallbackAddress:    raw.CallbackAddress,
		EndpointPayment:    models.TokenID(raw.EndpointPayment),
	}
	return nil
}

// ServiceRef names one option of one service
type ServiceRef struct {
	ServiceID    uint64 `json:"service_id"`
	ServiceIndex uint32 `json:"service_index"`
}

// SubscriptionRequest is one entry of a subscribe call
type SubscriptionRequest struct {
	ServiceID    uint64  `json:"service_id"`
	ServiceIndex uint32  `json:"service_index"`
	Cadence      Cadence `json:"cadence"`
}

// InitArgs configures a new fee contract
type InitArgs struct {
	Owner               models.Address
	StableToken         models.TokenID
	AcceptedTokens      []models.TokenID
	MinUserDepositValue math.Int
	MaxUserDeposits     uint64
	MaxPendingServices  uint64
	MaxServiceInfoNo    uint64
	EnergyFactory       models.Address
	EnergyThreshold     math.Int
}
