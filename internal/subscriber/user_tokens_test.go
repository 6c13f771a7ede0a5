package subscriber

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/ongoing"
	"subfee/internal/subscriptionfee"
)

const ticket models.TokenID = "TKT-a1b2c3"

func tickets(amount int64) models.Payment {
	return models.NewPayment(ticket, 0, math.NewInt(amount))
}

func (e *env) acceptTickets() {
	e.mustExec(e.owner, e.subAddr, func(ctx *chain.Ctx) error {
		return e.sub.AddAcceptedUserTokens(ctx, []models.TokenID{ticket})
	})
}

func (e *env) depositTokens(user models.Address, payments ...models.Payment) error {
	for _, p := range payments {
		require.NoError(e.t, e.chain.Mint(user, p))
	}
	return e.exec(user, e.subAddr, 0, payments, e.sub.DepositTokens)
}

func (e *env) userTokens(userID uint64) []models.Payment {
	e.t.Helper()
	var out []models.Payment
	e.query(e.subAddr, func(ctx *chain.Ctx) {
		tokens, err := UserTokens(userID).GetOrDefault(ctx.Store(), nil)
		require.NoError(e.t, err)
		out = tokens
	})
	return out
}

func TestAddAcceptedUserTokens(t *testing.T) {
	e := newEnv(t, 0, option())

	err := e.exec(e.admin, e.subAddr, 0, nil, func(ctx *chain.Ctx) error {
		return e.sub.AddAcceptedUserTokens(ctx, []models.TokenID{ticket})
	})
	require.ErrorIs(t, err, access.ErrNotOwner)

	err = e.exec(e.owner, e.subAddr, 0, nil, func(ctx *chain.Ctx) error {
		return e.sub.AddAcceptedUserTokens(ctx, []models.TokenID{"not a token"})
	})
	require.ErrorIs(t, err, ErrTokenNotAccepted)

	e.acceptTickets()
	e.acceptTickets()
	e.query(e.subAddr, func(ctx *chain.Ctx) {
		tokens, err := AcceptedUserTokens(ctx.Store())
		require.NoError(t, err)
		require.Equal(t, []models.TokenID{ticket}, tokens)
	})
}

func TestDepositAndWithdrawTokens(t *testing.T) {
	e := newEnv(t, 1, option())
	user, userID := e.users[0], e.userIDs[0]
	e.acceptTickets()

	require.NoError(t, e.depositTokens(user, tickets(30)))
	require.NoError(t, e.depositTokens(user, tickets(20)))
	require.Equal(t, []models.Payment{tickets(50)}, e.userTokens(userID))
	require.Equal(t, int64(50), e.balance(e.subAddr, ticket).Int64())

	t.Run("rejected deposits", func(t *testing.T) {
		other := models.NewPayment(reward, 0, math.NewInt(5))
		require.ErrorIs(t, e.depositTokens(user, other), ErrTokenNotAccepted)
		require.ErrorIs(t, e.depositTokens(user, tickets(1), tickets(1)), ErrInvalidDeposit)
		require.ErrorIs(t, e.depositTokens(user), ErrInvalidDeposit)

		stranger := chain.AccountAddress("stranger")
		require.ErrorIs(t, e.depositTokens(stranger, tickets(5)), ErrUnknownUser)
		require.Equal(t, []models.Payment{tickets(50)}, e.userTokens(userID))
	})

	t.Run("withdraw skips what is not held", func(t *testing.T) {
		var out []models.Payment
		err := e.exec(user, e.subAddr, 0, nil, func(ctx *chain.Ctx) error {
			var err error
			out, err = e.sub.WithdrawTokens(ctx, []models.Payment{
				tickets(20),
				tickets(100),
				models.NewPayment(reward, 0, math.NewInt(1)),
			})
			return err
		})
		require.NoError(t, err)
		require.Equal(t, []models.Payment{tickets(20)}, out)
		require.Equal(t, []models.Payment{tickets(30)}, e.userTokens(userID))
		require.Equal(t, int64(20), e.balance(user, ticket).Int64())
	})

	t.Run("unknown user cannot withdraw", func(t *testing.T) {
		err := e.exec(chain.AccountAddress("stranger"), e.subAddr, 0, nil, func(ctx *chain.Ctx) error {
			_, err := e.sub.WithdrawTokens(ctx, []models.Payment{tickets(1)})
			return err
		})
		require.ErrorIs(t, err, ErrUnknownUser)
	})
}

func TestEndpointPaymentIsTakenForEachCharge(t *testing.T) {
	withPayment := option()
	withPayment.EndpointPayment = ticket
	e := newEnv(t, 2, withPayment)
	e.acceptTickets()
	paying, broke := e.userIDs[0], e.userIDs[1]
	require.NoError(t, e.depositTokens(e.users[0], tickets(40)))

	status, err := e.perform(e.admin, 0, nil, 0)
	require.NoError(t, err)
	require.Equal(t, ongoing.StatusCompleted, status)

	// the paying user's tickets were handed to the strategy, which spent them
	require.NotNil(t, e.served(paying))
	require.Empty(t, e.userTokens(paying))
	require.True(t, e.balance(e.subAddr, ticket).IsZero())

	// without tickets the action fails and the fee goes to the caller
	require.Nil(t, e.served(broke))
	require.Equal(t, int64(feeAmount), e.balance(e.admin, usdc).Int64())
	require.Equal(t, int64(paying), e.balance(e.admin, reward).Int64())
	e.query(e.feeAddr, func(ctx *chain.Ctx) {
		next, _, err := subscriptionfee.NextPaymentEpoch(broke, e.serviceID, 0).Get(ctx.Store())
		require.NoError(t, err)
		require.Equal(t, uint64(2), next)
	})
}

func TestEndpointPaymentMustBeAValidToken(t *testing.T) {
	e := newEnv(t, 0, option())
	bad := option()
	bad.EndpointPayment = "tickets"

	err := e.exec(e.owner, e.subAddr, 0, nil, func(ctx *chain.Ctx) error {
		return e.sub.AddExtraServices(ctx, []subscriptionfee.ServiceDescriptor{bad})
	})
	require.ErrorIs(t, err, subscriptionfee.ErrInvalidToken)
}
