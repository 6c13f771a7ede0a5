package external

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/storage"
)

// MetabondingName identifies metabonding contracts
const MetabondingName = "metabonding"

var signer = storage.NewValue[common.Address]([]byte("signer"))

func weekRewards(week uint64) storage.Value[[]models.Payment] {
	return storage.NewValue[[]models.Payment](storage.Key("rewardsForWeek", storage.U64(week)))
}

func weekTotalStake(week uint64) storage.Value[*big.Int] {
	return amountValue("totalStakeForWeek", storage.U64(week))
}

func claimed(user models.Address, week uint64) storage.Value[bool] {
	return storage.NewValue[bool](storage.Key("claimed", user.Bytes(), storage.U64(week)))
}

type claimRewardsEvent struct {
	Caller  models.Address   `json:"caller"`
	User    models.Address   `json:"user"`
	Week    uint64           `json:"week"`
	Rewards []models.Payment `json:"rewards"`
}

// ClaimDigest is the hash the signer signs for one weekly claim
func ClaimDigest(user models.Address, week uint64, delegation, lkmexStaked math.Int) []byte {
	return crypto.Keccak256(
		user.Bytes(),
		storage.U64(week),
		common.LeftPadBytes(models.IntToBig(delegation).Bytes(), 32),
		common.LeftPadBytes(models.IntToBig(lkmexStaked).Bytes(), 32),
	)
}

// SignClaim produces the signature ClaimRewards expects
func SignClaim(key *ecdsa.PrivateKey, user models.Address, week uint64, delegation, lkmexStaked math.Int) ([]byte, error) {
	return crypto.Sign(ClaimDigest(user, week, delegation, lkmexStaked), key)
}

// Metabonding distributes weekly reward pools to users in proportion to
// their stake, as attested by an off-chain signer
type Metabonding struct {
	logger *zap.Logger
}

// NewMetabonding returns a metabonding contract
func NewMetabonding(logger *zap.Logger) *Metabonding {
	return &Metabonding{logger: logger.Named("metabonding")}
}

// Name implements chain.Contract
func (m *Metabonding) Name() string { return MetabondingName }

// Init sets the address whose signatures are accepted
func (m *Metabonding) Init(ctx *chain.Ctx, owner models.Address, signerAddress common.Address) error {
	if signerAddress == (common.Address{}) {
		return fmt.Errorf("%w: empty signer", ErrInvalidSignature)
	}
	if err := access.Init(ctx, owner); err != nil {
		return err
	}
	return signer.Set(ctx.Store(), signerAddress)
}

// AddWeeklyRewards funds week with the attached payments, shared among a
// total stake of totalStake. Owner endpoint.
func (m *Metabonding) AddWeeklyRewards(ctx *chain.Ctx, week uint64, totalStake math.Int) error {
	if err := access.RequireOwner(ctx); err != nil {
		return err
	}
	if len(ctx.Payments()) == 0 {
		return ErrInvalidPayment
	}
	if totalStake.IsNil() || !totalStake.IsPositive() {
		return fmt.Errorf("%w: total stake must be positive", ErrInvalidPayment)
	}
	if !weekRewards(week).IsEmpty(ctx.Store()) {
		return fmt.Errorf("%w: week %d already funded", ErrInvalidPayment, week)
	}
	if err := weekRewards(week).Set(ctx.Store(), ctx.Payments()); err != nil {
		return err
	}
	return writeAmount(ctx.Store(), weekTotalStake(week), totalStake)
}

// ClaimRewards pays user's share of week to the caller. The signature
// must come from the configured signer.
func (m *Metabonding) ClaimRewards(
	ctx *chain.Ctx,
	user models.Address,
	week uint64,
	delegation, lkmexStaked math.Int,
	signature []byte,
) ([]models.Payment, error) {
	s := ctx.Store()
	done, err := claimed(user, week).GetOrDefault(s, false)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: user %s week %d", ErrAlreadyClaimed, user, week)
	}
	if err := m.verify(s, user, week, delegation, lkmexStaked, signature); err != nil {
		return nil, err
	}

	pool, ok, err := weekRewards(week).Get(s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownWeek, week)
	}
	totalStake, err := readAmount(s, weekTotalStake(week))
	if err != nil {
		return nil, err
	}

	stake := models.OrZero(delegation).Add(models.OrZero(lkmexStaked))
	var rewards []models.Payment
	for _, p := range pool {
		share := p.Amount.Mul(stake).Quo(totalStake)
		if share.IsPositive() {
			rewards = append(rewards, models.NewPayment(p.Token, p.Nonce, share))
		}
	}

	if err := claimed(user, week).Set(s, true); err != nil {
		return nil, err
	}
	if err := ctx.Send(ctx.Caller(), rewards...); err != nil {
		return nil, err
	}

	m.logger.Debug("Metabonding rewards claimed",
		zap.String("user", user.String()),
		zap.Uint64("week", week),
		zap.Int("tokens", len(rewards)))

	ctx.Emit("claimRewards", claimRewardsEvent{
		Caller:  ctx.Caller(),
		User:    user,
		Week:    week,
		Rewards: rewards,
	})
	return rewards, nil
}

func (m *Metabonding) verify(r storage.Reader, user models.Address, week uint64, delegation, lkmexStaked math.Int, signature []byte) error {
	expected, ok, err := signer.Get(r)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no signer configured", ErrInvalidSignature)
	}
	if len(signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: bad length %d", ErrInvalidSignature, len(signature))
	}
	pub, err := crypto.SigToPub(ClaimDigest(user, week, delegation, lkmexStaked), signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != expected {
		return ErrInvalidSignature
	}
	return nil
}

// HasClaimed reports whether user already claimed week
func (m *Metabonding) HasClaimed(ctx *chain.Ctx, user models.Address, week uint64) (bool, error) {
	return claimed(user, week).GetOrDefault(ctx.Store(), false)
}
