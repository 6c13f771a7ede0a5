package subscriptionfee

import (
	"math/big"

	"subfee/internal/ledger"
	"subfee/internal/models"
	"subfee/internal/storage"
)

// Storage layout of the fee contract. Service contracts read several of
// these entries remotely, so the tags must not change.
var (
	UserIDs    = storage.NewAddressIDMapper("userId")
	ServiceIDs = storage.NewAddressIDMapper("serviceId")

	pendingServices    = storage.NewUnorderedSet[models.Address]([]byte("pendingServices"))
	acceptedFeesTokens = storage.NewUnorderedSet[models.TokenID]([]byte("acceptedFeesTokens"))

	stableToken         = storage.NewValue[models.TokenID]([]byte("stableToken"))
	minUserDepositValue = storage.NewValue[*big.Int]([]byte("minUserDepositValue"))
	maxUserDeposits     = storage.NewValue[uint64]([]byte("maxUserDeposits"))
	maxPendingServices  = storage.NewValue[uint64]([]byte("maxPendingServices"))
	maxServiceInfoNo    = storage.NewValue[uint64]([]byte("maxServiceInfoNo"))
	energyFactory       = storage.NewValue[models.Address]([]byte("energyFactoryAddress"))
	energyThreshold     = storage.NewValue[*big.Int]([]byte("minEnergyForPremium"))
)

// ServiceInfo holds the live options of an approved service
func ServiceInfo(serviceID uint64) storage.Value[[]ServiceDescriptor] {
	return storage.NewValue[[]ServiceDescriptor](storage.Key("serviceInfo", storage.U64(serviceID)))
}

func pendingServiceInfo(addr models.Address) storage.Value[[]ServiceDescriptor] {
	return storage.NewValue[[]ServiceDescriptor](storage.Key("pendingServiceInfo", addr[:]))
}

// Subscribers is the set of user ids subscribed to one option
func Subscribers(serviceID uint64, serviceIndex uint32) storage.UnorderedSet[uint64] {
	return storage.NewUnorderedSet[uint64](storage.Key("subscribedUsers", storage.U64(serviceID), storage.U32(serviceIndex)))
}

// NextPaymentEpoch is the cooldown marker: the first epoch at which the
// user may be charged again
func NextPaymentEpoch(userID, serviceID uint64, serviceIndex uint32) storage.Value[uint64] {
	return storage.NewValue[uint64](storage.Key("userNextPaymentEpoch",
		storage.U64(userID), storage.U64(serviceID), storage.U32(serviceIndex)))
}

// SubscriptionCadence is the cadence chosen at subscription time
func SubscriptionCadence(userID, serviceID uint64, serviceIndex uint32) storage.Value[Cadence] {
	return storage.NewValue[Cadence](storage.Key("subscriptionType",
		storage.U64(userID), storage.U64(serviceID), storage.U32(serviceIndex)))
}

// UserDepositedFunds holds the deposits of one user
func UserDepositedFunds(userID uint64) storage.Value[ledger.Funds] {
	return storage.NewValue[ledger.Funds](storage.Key("userDepositedFunds", storage.U64(userID)))
}

func pairAddress(token models.TokenID) storage.Value[models.Address] {
	return storage.NewValue[models.Address](storage.Key("pairAddress", []byte(token)))
}
