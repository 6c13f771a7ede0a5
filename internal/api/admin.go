package api

import (
	"net/http"

	"cosmossdk.io/math"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/node"
	"subfee/internal/strategy"
	"subfee/internal/strategy/mexlock"
	"subfee/internal/subscriber"
	"subfee/internal/subscriptionfee"
)

// Owner endpoints are signed with the devnet owner account, which owns the
// fee contract and every subscriber.

// ==================== Service Registration ====================

// HandleRegisterService handles POST /api/v1/subscribers/{name}/register
// Queues the subscriber's options at the fee contract
func (h *Handler) HandleRegisterService(w http.ResponseWriter, r *http.Request) {
	h.submitOptions(w, r, func(c *subscriber.Contract, call *chain.Ctx, options []subscriptionfee.ServiceDescriptor) error {
		return c.RegisterAtFeeContract(call, options)
	})
}

// HandleAddExtraServices handles POST /api/v1/subscribers/{name}/options
func (h *Handler) HandleAddExtraServices(w http.ResponseWriter, r *http.Request) {
	h.submitOptions(w, r, func(c *subscriber.Contract, call *chain.Ctx, options []subscriptionfee.ServiceDescriptor) error {
		return c.AddExtraServices(call, options)
	})
}

func (h *Handler) submitOptions(
	w http.ResponseWriter,
	r *http.Request,
	fn func(c *subscriber.Contract, call *chain.Ctx, options []subscriptionfee.ServiceDescriptor) error,
) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	var req ServiceOptionsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Options) == 0 {
		respondError(w, http.StatusBadRequest, "At least one option is required", nil)
		return
	}

	receipt, err := h.execute(r, h.node.Owner, sub.Address, nil, func(call *chain.Ctx) error {
		return fn(sub.Contract, call, req.Options)
	})
	if err != nil {
		respondFailure(w, "Registration failed", err)
		return
	}
	h.logger.Info("Service options submitted",
		zap.String("subscriber", sub.Name),
		zap.Int("options", len(req.Options)))
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleUnregisterSubscriber handles POST /api/v1/subscribers/{name}/unregister
func (h *Handler) HandleUnregisterSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, sub.Address, nil, sub.Contract.UnregisterAtFeeContract)
	if err != nil {
		respondFailure(w, "Unregister failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleUnregisterService handles POST /api/v1/services/{address}/unregister
// Removes a service on behalf of the fee contract owner
func (h *Handler) HandleUnregisterService(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseCaller(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, h.node.FeeAddress, nil, func(call *chain.Ctx) error {
		return h.node.Fee.UnregisterServiceByOwner(call, addr)
	})
	if err != nil {
		respondFailure(w, "Unregister failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// ==================== Fee Contract Settings ====================

// HandleAddPair handles POST /api/v1/admin/pairs
func (h *Handler) HandleAddPair(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if !decode(w, r, &req) {
		return
	}
	pair, ok := parseCaller(w, req.Pair)
	if !ok {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, h.node.FeeAddress, nil, func(call *chain.Ctx) error {
		return h.node.Fee.AddPair(call, req.Token, pair)
	})
	if err != nil {
		respondFailure(w, "Failed to add pair", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleRemovePair handles DELETE /api/v1/admin/pairs/{token}
func (h *Handler) HandleRemovePair(w http.ResponseWriter, r *http.Request) {
	token := models.TokenID(mux.Vars(r)["token"])

	receipt, err := h.execute(r, h.node.Owner, h.node.FeeAddress, nil, func(call *chain.Ctx) error {
		return h.node.Fee.RemovePair(call, token)
	})
	if err != nil {
		respondFailure(w, "Failed to remove pair", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleSetEnergyThreshold handles POST /api/v1/admin/energy-threshold
func (h *Handler) HandleSetEnergyThreshold(w http.ResponseWriter, r *http.Request) {
	threshold, ok := decodeThreshold(w, r)
	if !ok {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, h.node.FeeAddress, nil, func(call *chain.Ctx) error {
		return h.node.Fee.SetEnergyThreshold(call, threshold)
	})
	if err != nil {
		respondFailure(w, "Failed to set energy threshold", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// ==================== Subscriber Settings ====================

// HandleSetStrategyEnergyThreshold handles POST /api/v1/subscribers/{name}/energy-threshold
// Sets the energy a user needs for the strategy's premium option
func (h *Handler) HandleSetStrategyEnergyThreshold(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	threshold, ok := decodeThreshold(w, r)
	if !ok {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, sub.Address, nil, func(call *chain.Ctx) error {
		return strategy.SetEnergyGate(call, h.node.EnergyFactoryAddress, threshold)
	})
	if err != nil {
		respondFailure(w, "Failed to set energy threshold", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleAddMexPair handles POST /api/v1/subscribers/{name}/mex-pairs
func (h *Handler) HandleAddMexPair(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.mexSubscriber(w, r)
	if !ok {
		return
	}
	var req PairRequest
	if !decode(w, r, &req) {
		return
	}
	pair, ok := parseCaller(w, req.Pair)
	if !ok {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, sub.Address, nil, func(call *chain.Ctx) error {
		return mexlock.AddMexPair(call, req.Token, pair)
	})
	if err != nil {
		respondFailure(w, "Failed to add mex pair", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleRemoveMexPair handles DELETE /api/v1/subscribers/{name}/mex-pairs/{token}
func (h *Handler) HandleRemoveMexPair(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.mexSubscriber(w, r)
	if !ok {
		return
	}
	token := models.TokenID(mux.Vars(r)["token"])

	receipt, err := h.execute(r, h.node.Owner, sub.Address, nil, func(call *chain.Ctx) error {
		return mexlock.RemoveMexPair(call, token)
	})
	if err != nil {
		respondFailure(w, "Failed to remove mex pair", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleSetPercentages handles POST /api/v1/subscribers/{name}/percentages
func (h *Handler) HandleSetPercentages(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.mexSubscriber(w, r)
	if !ok {
		return
	}
	var req PercentagesRequest
	if !decode(w, r, &req) {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, sub.Address, nil, func(call *chain.Ctx) error {
		return mexlock.SetPercentages(call, req.ServiceIndex, req.Percentages)
	})
	if err != nil {
		respondFailure(w, "Failed to set percentages", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// ==================== User Tokens ====================

// HandleAddAcceptedUserTokens handles POST /api/v1/subscribers/{name}/accepted-tokens
func (h *Handler) HandleAddAcceptedUserTokens(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	var req TokensRequest
	if !decode(w, r, &req) {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, sub.Address, nil, func(call *chain.Ctx) error {
		return sub.Contract.AddAcceptedUserTokens(call, req.Tokens)
	})
	if err != nil {
		respondFailure(w, "Failed to accept tokens", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleDepositTokens handles POST /api/v1/subscribers/{name}/tokens/deposits
func (h *Handler) HandleDepositTokens(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	var req PaymentsRequest
	if !decode(w, r, &req) {
		return
	}
	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	receipt, err := h.execute(r, caller, sub.Address, req.Payments, sub.Contract.DepositTokens)
	if err != nil {
		respondFailure(w, "Deposit failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, req.Payments))
}

// HandleWithdrawTokens handles POST /api/v1/subscribers/{name}/tokens/withdrawals
// Requests the caller cannot cover are skipped
func (h *Handler) HandleWithdrawTokens(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	var req PaymentsRequest
	if !decode(w, r, &req) {
		return
	}
	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	var withdrawn []models.Payment
	receipt, err := h.execute(r, caller, sub.Address, nil, func(call *chain.Ctx) error {
		var err error
		withdrawn, err = sub.Contract.WithdrawTokens(call, req.Payments)
		return err
	})
	if err != nil {
		respondFailure(w, "Withdrawal failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, withdrawn))
}

// HandleGetUserTokens handles GET /api/v1/subscribers/{name}/users/{address}/tokens
func (h *Handler) HandleGetUserTokens(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	addr, ok := parseCaller(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	response := UserTokensResponse{Address: addr.String()}
	err := h.node.Chain.Query(r.Context(), h.node.FeeAddress, func(call *chain.Ctx) error {
		id, err := subscriptionfee.UserIDs.GetID(call.Store(), addr)
		response.UserID = id
		return err
	})
	if err == nil && response.UserID != 0 {
		err = h.node.Chain.Query(r.Context(), sub.Address, func(call *chain.Ctx) error {
			tokens, err := subscriber.UserTokens(response.UserID).GetOrDefault(call.Store(), nil)
			response.Tokens = tokens
			return err
		})
	}
	if err != nil {
		respondFailure(w, "Failed to read tokens", err)
		return
	}
	if response.UserID == 0 {
		respondError(w, http.StatusNotFound, "Unknown user", nil)
		return
	}
	response.Tokens = nonNil(response.Tokens)
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) mexSubscriber(w http.ResponseWriter, r *http.Request) (*node.Subscriber, bool) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return nil, false
	}
	if !sub.SwapsToMex() {
		respondError(w, http.StatusBadRequest, "Subscriber does not swap to MEX", nil)
		return nil, false
	}
	return sub, true
}

func decodeThreshold(w http.ResponseWriter, r *http.Request) (math.Int, bool) {
	var req ThresholdRequest
	if !decode(w, r, &req) {
		return math.Int{}, false
	}
	threshold, ok := math.NewIntFromString(req.Threshold)
	if !ok || threshold.IsNegative() {
		respondError(w, http.StatusBadRequest, "Invalid threshold", nil)
		return math.Int{}, false
	}
	return threshold, true
}
