package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the HTTP router. metrics may be nil.
func SetupRouter(handler *Handler, metrics http.Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())
	router.Use(recoveryMiddleware(logger))

	// Health check endpoint
	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Epochs
	api.HandleFunc("/epoch", handler.HandleGetEpoch).Methods(http.MethodGet)
	api.HandleFunc("/epoch", handler.HandleSetEpoch).Methods(http.MethodPost)

	// Accounts and funds
	api.HandleFunc("/faucet", handler.HandleFaucet).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{address}/balances", handler.HandleGetBalances).Methods(http.MethodGet)
	api.HandleFunc("/deposits", handler.HandleDeposit).Methods(http.MethodPost)
	api.HandleFunc("/withdrawals", handler.HandleWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/users/{address}/funds", handler.HandleGetUserFunds).Methods(http.MethodGet)

	// Service registry
	api.HandleFunc("/services", handler.HandleListServices).Methods(http.MethodGet)
	api.HandleFunc("/services/pending/{address}/approve", handler.HandleApproveService).Methods(http.MethodPost)
	api.HandleFunc("/services/{address}/unregister", handler.HandleUnregisterService).Methods(http.MethodPost)
	api.HandleFunc("/services/{id:[0-9]+}/quote", handler.HandleQuote).Methods(http.MethodGet)

	// Subscriptions
	api.HandleFunc("/subscriptions", handler.HandleSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/subscriptions/cancel", handler.HandleUnsubscribe).Methods(http.MethodPost)

	// Subscribers
	api.HandleFunc("/subscribers/{name}", handler.HandleGetSubscriber).Methods(http.MethodGet)
	api.HandleFunc("/subscribers/{name}/subtract-payment", handler.HandleSubtractPayment).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/perform", handler.HandlePerformService).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/mex-operations", handler.HandleMexOperations).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/claim-fees", handler.HandleClaimFees).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/register", handler.HandleRegisterService).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/options", handler.HandleAddExtraServices).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/unregister", handler.HandleUnregisterSubscriber).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/energy-threshold", handler.HandleSetStrategyEnergyThreshold).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/mex-pairs", handler.HandleAddMexPair).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/mex-pairs/{token}", handler.HandleRemoveMexPair).Methods(http.MethodDelete)
	api.HandleFunc("/subscribers/{name}/percentages", handler.HandleSetPercentages).Methods(http.MethodPost)

	// User tokens held by subscribers
	api.HandleFunc("/subscribers/{name}/accepted-tokens", handler.HandleAddAcceptedUserTokens).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/tokens/deposits", handler.HandleDepositTokens).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/tokens/withdrawals", handler.HandleWithdrawTokens).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{name}/users/{address}/tokens", handler.HandleGetUserTokens).Methods(http.MethodGet)

	// Fee contract settings
	api.HandleFunc("/admin/pairs", handler.HandleAddPair).Methods(http.MethodPost)
	api.HandleFunc("/admin/pairs/{token}", handler.HandleRemovePair).Methods(http.MethodDelete)
	api.HandleFunc("/admin/energy-threshold", handler.HandleSetEnergyThreshold).Methods(http.MethodPost)

	// Journal
	api.HandleFunc("/runs", handler.HandleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", handler.HandleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/events", handler.HandleListEvents).Methods(http.MethodGet)

	// Worker
	api.HandleFunc("/worker/trigger", handler.HandleTriggerWorker).Methods(http.MethodPost)

	return router
}

// ==================== Middleware ====================

// RequestIDHeader carries the id every request is logged under
const RequestIDHeader = "X-Request-ID"

// loggingMiddleware logs each request under its route template
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", recorder.status),
				zap.Duration("duration", time.Since(start)),
			}
			if recorder.status >= http.StatusInternalServerError {
				logger.Warn("HTTP request failed", fields...)
				return
			}
			logger.Debug("HTTP request", fields...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// corsMiddleware lets browser tooling call the devnet API from any origin
func corsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// recoveryMiddleware turns a handler panic into a 500
func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("Handler panicked",
						zap.Any("panic", v),
						zap.String("request_id", w.Header().Get(RequestIDHeader)),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"))
					respondError(w, http.StatusInternalServerError, "Internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
