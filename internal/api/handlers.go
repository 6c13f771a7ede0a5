package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"subfee/internal/access"
	"subfee/internal/chain"
	"subfee/internal/models"
	"subfee/internal/node"
	"subfee/internal/ongoing"
	"subfee/internal/service"
	"subfee/internal/subscriber"
	"subfee/internal/subscriptionfee"
)

// Version is reported by the health check
const Version = "1.0.0"

// Journal reads the run and event history
type Journal interface {
	ListRuns(ctx context.Context, subscriber string, limit, offset int) ([]models.OperationRun, error)
	GetRun(ctx context.Context, id string) (*models.OperationRun, error)
	ListEvents(ctx context.Context, identifier string, limit int) ([]models.ContractEvent, error)
}

// Trigger queues the configured worker jobs
type Trigger interface {
	Trigger() int
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	node       *node.Node
	operations *service.OperationService
	feeService *service.FeeService
	journal    Journal // nil without a database
	worker     Trigger // nil when the worker is disabled
	logger     *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	n *node.Node,
	operations *service.OperationService,
	feeService *service.FeeService,
	journal Journal,
	worker Trigger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		node:       n,
		operations: operations,
		feeService: feeService,
		journal:    journal,
		worker:     worker,
		logger:     logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	if h.node != nil {
		response.Epoch = h.node.Chain.Epoch()
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Epochs ====================

// HandleGetEpoch handles GET /api/v1/epoch
func (h *Handler) HandleGetEpoch(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, EpochResponse{Epoch: h.node.Chain.Epoch()})
}

// HandleSetEpoch handles POST /api/v1/epoch
func (h *Handler) HandleSetEpoch(w http.ResponseWriter, r *http.Request) {
	var req SetEpochRequest
	if !decode(w, r, &req) {
		return
	}

	var epoch uint64
	switch {
	case req.Epoch != nil && req.Advance > 0:
		respondError(w, http.StatusBadRequest, "Set either epoch or advance", nil)
		return
	case req.Epoch != nil:
		if err := h.node.Chain.SetEpoch(*req.Epoch); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid epoch", err)
			return
		}
		epoch = *req.Epoch
	case req.Advance > 0:
		epoch = h.node.Chain.AdvanceEpochs(req.Advance)
	default:
		respondError(w, http.StatusBadRequest, "Epoch or advance is required", nil)
		return
	}

	h.logger.Info("Epoch changed", zap.Uint64("epoch", epoch))
	respondJSON(w, http.StatusOK, EpochResponse{Epoch: epoch})
}

// ==================== Accounts and Funds ====================

// HandleFaucet handles POST /api/v1/faucet
// Mints devnet tokens to the caller
func (h *Handler) HandleFaucet(w http.ResponseWriter, r *http.Request) {
	var req PaymentsRequest
	if !decode(w, r, &req) {
		return
	}
	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}
	if len(req.Payments) == 0 {
		respondError(w, http.StatusBadRequest, "At least one payment is required", nil)
		return
	}

	if err := h.node.Chain.Mint(caller, req.Payments...); err != nil {
		respondError(w, http.StatusBadRequest, "Failed to mint", err)
		return
	}
	respondJSON(w, http.StatusOK, TxResponse{Epoch: h.node.Chain.Epoch(), Payments: req.Payments})
}

// HandleGetBalances handles GET /api/v1/accounts/{address}/balances
func (h *Handler) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseCaller(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	var balances []models.Payment
	err := h.node.Chain.Query(r.Context(), addr, func(call *chain.Ctx) error {
		balances = call.Balances(addr)
		return nil
	})
	if err != nil {
		respondFailure(w, "Failed to read balances", err)
		return
	}
	respondJSON(w, http.StatusOK, BalancesResponse{Address: addr.String(), Balances: nonNil(balances)})
}

// HandleDeposit handles POST /api/v1/deposits
func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req PaymentsRequest
	if !decode(w, r, &req) {
		return
	}
	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	receipt, err := h.execute(r, caller, h.node.FeeAddress, req.Payments, h.node.Fee.Deposit)
	if err != nil {
		respondFailure(w, "Deposit failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, req.Payments))
}

// HandleWithdraw handles POST /api/v1/withdrawals
// Requests the caller cannot cover are skipped
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req PaymentsRequest
	if !decode(w, r, &req) {
		return
	}
	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	var withdrawn []models.Payment
	receipt, err := h.execute(r, caller, h.node.FeeAddress, nil, func(call *chain.Ctx) error {
		var err error
		withdrawn, err = h.node.Fee.WithdrawFunds(call, req.Payments)
		return err
	})
	if err != nil {
		respondFailure(w, "Withdrawal failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, withdrawn))
}

// HandleGetUserFunds handles GET /api/v1/users/{address}/funds
func (h *Handler) HandleGetUserFunds(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseCaller(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	response := UserFundsResponse{Address: addr.String()}
	err := h.node.Chain.Query(r.Context(), h.node.FeeAddress, func(call *chain.Ctx) error {
		id, err := subscriptionfee.UserIDs.GetID(call.Store(), addr)
		if err != nil || id == 0 {
			return err
		}
		funds, err := subscriptionfee.UserFunds(call.Store(), id)
		response.UserID = id
		response.Funds = funds
		return err
	})
	if err != nil {
		respondFailure(w, "Failed to read funds", err)
		return
	}
	if response.UserID == 0 {
		respondError(w, http.StatusNotFound, "Unknown user", nil)
		return
	}
	response.Funds = nonNil(response.Funds)
	respondJSON(w, http.StatusOK, response)
}

// ==================== Services ====================

// HandleListServices handles GET /api/v1/services
func (h *Handler) HandleListServices(w http.ResponseWriter, r *http.Request) {
	response := ListServicesResponse{Services: []ServiceSummary{}, Pending: []string{}}

	for _, sub := range h.node.Subscribers() {
		summary, err := h.serviceSummary(r.Context(), sub)
		if err != nil {
			respondFailure(w, "Failed to read services", err)
			return
		}
		response.Services = append(response.Services, summary)
	}

	err := h.node.Chain.Query(r.Context(), h.node.FeeAddress, func(call *chain.Ctx) error {
		pending, err := subscriptionfee.PendingServices(call.Store())
		for _, addr := range pending {
			response.Pending = append(response.Pending, addr.String())
		}
		return err
	})
	if err != nil {
		respondFailure(w, "Failed to read pending services", err)
		return
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) serviceSummary(ctx context.Context, sub *node.Subscriber) (ServiceSummary, error) {
	summary := ServiceSummary{
		Name:      sub.Name,
		Address:   sub.Address.String(),
		Options:   []subscriptionfee.ServiceDescriptor{},
		HasMexOps: sub.Mex != nil,
	}

	err := h.node.Chain.Query(ctx, sub.Address, func(call *chain.Ctx) error {
		id, err := subscriber.ServiceID(call)
		if errors.Is(err, subscriber.ErrServiceNotRegistered) {
			return nil
		}
		summary.ServiceID = id
		return err
	})
	if err != nil || summary.ServiceID == 0 {
		return summary, err
	}

	err = h.node.Chain.Query(ctx, h.node.FeeAddress, func(call *chain.Ctx) error {
		descriptors, err := subscriptionfee.ServiceDescriptors(call.Store(), summary.ServiceID)
		if descriptors != nil {
			summary.Options = descriptors
		}
		return err
	})
	return summary, err
}

// HandleApproveService handles POST /api/v1/services/pending/{address}/approve
func (h *Handler) HandleApproveService(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseCaller(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	receipt, err := h.execute(r, h.node.Owner, h.node.FeeAddress, nil, func(call *chain.Ctx) error {
		return h.node.Fee.ApproveService(call, addr)
	})
	if err != nil {
		respondFailure(w, "Approval failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleQuote handles GET /api/v1/services/{id}/quote?index=0&token=USDC-c76f1f
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	serviceID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid service id", err)
		return
	}
	var index uint64
	if s := r.URL.Query().Get("index"); s != "" {
		if index, err = strconv.ParseUint(s, 10, 32); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid service index", err)
			return
		}
	}
	token := models.TokenID(r.URL.Query().Get("token"))

	quote, err := h.feeService.Quote(r.Context(), serviceID, uint32(index), token)
	if err != nil {
		respondFailure(w, "Failed to quote", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// ==================== Subscriptions ====================

// HandleSubscribe handles POST /api/v1/subscriptions
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !decode(w, r, &req) {
		return
	}
	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	requests := make([]subscriptionfee.SubscriptionRequest, 0, len(req.Subscriptions))
	for _, s := range req.Subscriptions {
		cadence, err := subscriptionfee.ParseCadence(s.Cadence)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid cadence", err)
			return
		}
		requests = append(requests, subscriptionfee.SubscriptionRequest{
			ServiceID:    s.ServiceID,
			ServiceIndex: s.ServiceIndex,
			Cadence:      cadence,
		})
	}

	receipt, err := h.execute(r, caller, h.node.FeeAddress, nil, func(call *chain.Ctx) error {
		return h.node.Fee.Subscribe(call, requests)
	})
	if err != nil {
		respondFailure(w, "Subscribe failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// HandleUnsubscribe handles POST /api/v1/subscriptions/cancel
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !decode(w, r, &req) {
		return
	}
	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	refs := make([]subscriptionfee.ServiceRef, 0, len(req.Subscriptions))
	for _, s := range req.Subscriptions {
		refs = append(refs, subscriptionfee.ServiceRef{ServiceID: s.ServiceID, ServiceIndex: s.ServiceIndex})
	}

	receipt, err := h.execute(r, caller, h.node.FeeAddress, nil, func(call *chain.Ctx) error {
		return h.node.Fee.Unsubscribe(call, refs)
	})
	if err != nil {
		respondFailure(w, "Unsubscribe failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, nil))
}

// ==================== Subscribers ====================

// HandleGetSubscriber handles GET /api/v1/subscribers/{name}
func (h *Handler) HandleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	summary, err := h.serviceSummary(r.Context(), sub)
	if err != nil {
		respondFailure(w, "Failed to read service", err)
		return
	}

	response := SubscriberStateResponse{
		Name:            sub.Name,
		PendingFeeUsers: make(map[uint32]uint64, len(summary.Options)),
	}
	err = h.node.Chain.Query(r.Context(), sub.Address, func(call *chain.Ctx) error {
		op, err := ongoing.Load(call.Store())
		if err != nil {
			return err
		}
		response.Checkpoint = op.Kind().String()

		fees, err := subscriber.TotalFees(call.Store())
		if err != nil {
			return err
		}
		response.TotalFees = nonNil(fees)

		accepted, err := subscriber.AcceptedUserTokens(call.Store())
		if err != nil {
			return err
		}
		response.AcceptedUserTokens = accepted
		if accepted == nil {
			response.AcceptedUserTokens = []models.TokenID{}
		}

		for i := range summary.Options {
			n, err := subscriber.PendingFeeUsers(uint32(i)).Len(call.Store())
			if err != nil {
				return err
			}
			response.PendingFeeUsers[uint32(i)] = n
		}
		return nil
	})
	if err != nil {
		respondFailure(w, "Failed to read subscriber", err)
		return
	}
	respondJSON(w, http.StatusOK, response)
}

// HandleSubtractPayment handles POST /api/v1/subscribers/{name}/subtract-payment
func (h *Handler) HandleSubtractPayment(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	var req SubtractPaymentRequest
	if !decode(w, r, &req) {
		return
	}

	var payment models.Payment
	receipt, err := h.execute(r, h.node.Keeper(), sub.Address, nil, func(call *chain.Ctx) error {
		var err error
		payment, err = sub.Contract.SubtractPayment(call, req.ServiceIndex, req.UserID)
		return err
	})
	if err != nil {
		respondFailure(w, "Payment failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, []models.Payment{payment}))
}

// HandlePerformService handles POST /api/v1/subscribers/{name}/perform
func (h *Handler) HandlePerformService(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, models.OperationKindPerformService)
}

// HandleMexOperations handles POST /api/v1/subscribers/{name}/mex-operations
func (h *Handler) HandleMexOperations(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, models.OperationKindMexOperations)
}

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request, kind models.OperationKind) {
	name := mux.Vars(r)["name"]
	var req RunBatchRequest
	if !decode(w, r, &req) {
		return
	}

	run := service.RunRequest{
		Subscriber:   name,
		ServiceIndex: req.ServiceIndex,
		Kind:         kind,
		MaxCalls:     req.MaxCalls,
		GasLimit:     req.GasLimit,
	}
	for _, arg := range req.AuxArgs {
		b, err := hexutil.Decode(arg)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid aux argument", err)
			return
		}
		run.AuxArgs = append(run.AuxArgs, b)
	}
	if req.MinAmountOut != "" {
		minOut, ok := math.NewIntFromString(req.MinAmountOut)
		if !ok || !minOut.IsPositive() {
			respondError(w, http.StatusBadRequest, "Invalid min_amount_out", nil)
			return
		}
		run.MinAmountOut = &minOut
	}

	result, err := h.operations.RunBatch(r.Context(), run)
	if err != nil {
		if result == nil {
			respondFailure(w, "Run rejected", err)
			return
		}
		h.logger.Warn("Run failed",
			zap.String("run_id", result.ID),
			zap.String("subscriber", name),
			zap.Error(err))
		respondJSON(w, statusFor(err), RunResponse{Run: result})
		return
	}
	respondJSON(w, http.StatusOK, RunResponse{Run: result})
}

// HandleClaimFees handles POST /api/v1/subscribers/{name}/claim-fees
// Sends the accumulated fees to the owner
func (h *Handler) HandleClaimFees(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}

	var claimed []models.Payment
	receipt, err := h.execute(r, h.node.Owner, sub.Address, nil, func(call *chain.Ctx) error {
		var err error
		claimed, err = sub.Contract.ClaimFees(call)
		return err
	})
	if err != nil {
		respondFailure(w, "Claim failed", err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(receipt, claimed))
}

// ==================== Journal ====================

// HandleListRuns handles GET /api/v1/runs?subscriber=&limit=&offset=
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "Journal is not configured", nil)
		return
	}
	limit, offset := pagination(r)

	runs, err := h.journal.ListRuns(r.Context(), r.URL.Query().Get("subscriber"), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []models.OperationRun{}
	}
	respondJSON(w, http.StatusOK, ListRunsResponse{Runs: runs})
}

// HandleGetRun handles GET /api/v1/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "Journal is not configured", nil)
		return
	}

	run, err := h.journal.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.logger.Error("Failed to get run", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get run", err)
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "Run not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, RunResponse{Run: run})
}

// HandleListEvents handles GET /api/v1/events?identifier=&limit=
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "Journal is not configured", nil)
		return
	}
	limit, _ := pagination(r)

	events, err := h.journal.ListEvents(r.Context(), r.URL.Query().Get("identifier"), limit)
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}
	if events == nil {
		events = []models.ContractEvent{}
	}
	respondJSON(w, http.StatusOK, ListEventsResponse{Events: events})
}

// HandleTriggerWorker handles POST /api/v1/worker/trigger
func (h *Handler) HandleTriggerWorker(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		respondError(w, http.StatusServiceUnavailable, "Worker is not running", nil)
		return
	}
	respondJSON(w, http.StatusAccepted, TriggerResponse{Queued: h.worker.Trigger()})
}

// ==================== Helper Functions ====================

func (h *Handler) execute(
	r *http.Request,
	caller, to models.Address,
	payments []models.Payment,
	fn func(*chain.Ctx) error,
) (*chain.Receipt, error) {
	receipt, err := h.node.Chain.Execute(r.Context(), chain.Tx{Caller: caller, To: to, Payments: payments}, fn)
	if err != nil {
		h.logger.Debug("Transaction failed",
			zap.String("caller", caller.String()),
			zap.String("to", to.String()),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	return receipt, err
}

func (h *Handler) subscriber(w http.ResponseWriter, r *http.Request) (*node.Subscriber, bool) {
	sub, err := h.node.Subscriber(mux.Vars(r)["name"])
	if err != nil {
		respondError(w, http.StatusNotFound, "Unknown subscriber", err)
		return nil, false
	}
	return sub, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseCaller(w http.ResponseWriter, s string) (models.Address, bool) {
	if s == "" {
		respondError(w, http.StatusBadRequest, "Address is required", nil)
		return models.Address{}, false
	}
	addr, err := models.ParseAddress(s)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid address", err)
		return models.Address{}, false
	}
	return addr, true
}

func pagination(r *http.Request) (int, int) {
	limit, offset := 50, 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}
	return limit, offset
}

func txResponse(receipt *chain.Receipt, payments []models.Payment) TxResponse {
	return TxResponse{
		TxHash:   receipt.TxHash,
		Epoch:    receipt.Epoch,
		GasUsed:  receipt.GasUsed,
		Payments: payments,
	}
}

func nonNil(payments []models.Payment) []models.Payment {
	if payments == nil {
		return []models.Payment{}
	}
	return payments
}

// statusFor maps a failed call to an HTTP status. Anything a contract
// rejects without a more specific match is unprocessable.
func statusFor(err error) int {
	switch {
	case errors.Is(err, node.ErrUnknownSubscriber),
		errors.Is(err, service.ErrUnknownOption):
		return http.StatusNotFound
	case errors.Is(err, access.ErrNotOwner),
		errors.Is(err, access.ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, ongoing.ErrConflictingOperation):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoMexOperations),
		errors.Is(err, service.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func respondFailure(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}
