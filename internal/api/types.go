package api

import (
	"subfee/internal/models"
	"subfee/internal/strategy/mexlock"
	"subfee/internal/subscriptionfee"
)

// ==================== Epochs ====================

// SetEpochRequest either sets the epoch or advances it
type SetEpochRequest struct {
	Epoch   *uint64 `json:"epoch,omitempty"`
	Advance uint64  `json:"advance,omitempty"`
}

// EpochResponse represents the current chain epoch
type EpochResponse struct {
	Epoch uint64 `json:"epoch"`
}

// ==================== Accounts and Funds ====================

// PaymentsRequest carries tokens sent by, or requested for, an account
type PaymentsRequest struct {
	Caller   string           `json:"caller"` // bech32 address
	Payments []models.Payment `json:"payments"`
}

// BalancesResponse lists the tokens an account holds
type BalancesResponse struct {
	Address  string           `json:"address"`
	Balances []models.Payment `json:"balances"`
}

// UserFundsResponse represents the deposits of a user at the fee contract
type UserFundsResponse struct {
	Address string           `json:"address"`
	UserID  uint64           `json:"user_id"`
	Funds   []models.Payment `json:"funds"`
}

// TxResponse describes a committed transaction
type TxResponse struct {
	TxHash   string           `json:"tx_hash"`
	Epoch    uint64           `json:"epoch"`
	GasUsed  uint64           `json:"gas_used"`
	Payments []models.Payment `json:"payments,omitempty"`
}

// ==================== Services ====================

// ServiceSummary describes one registered subscriber deployment
type ServiceSummary struct {
	Name      string                              `json:"name"`
	Address   string                              `json:"address"`
	ServiceID uint64                              `json:"service_id"`
	Options   []subscriptionfee.ServiceDescriptor `json:"options"`
	HasMexOps bool                                `json:"has_mex_operations"`
}

// ListServicesResponse represents every registered service
type ListServicesResponse struct {
	Services []ServiceSummary `json:"services"`
	Pending  []string         `json:"pending"`
}

// SubscriberStateResponse represents the bookkeeping of a subscriber
type SubscriberStateResponse struct {
	Name               string            `json:"name"`
	Checkpoint         string            `json:"checkpoint"`
	TotalFees          []models.Payment  `json:"total_fees"`
	PendingFeeUsers    map[uint32]uint64 `json:"pending_fee_users"`
	AcceptedUserTokens []models.TokenID  `json:"accepted_user_tokens"`
}

// UserTokensResponse represents the tokens a user deposited at a subscriber
type UserTokensResponse struct {
	Address string           `json:"address"`
	UserID  uint64           `json:"user_id"`
	Tokens  []models.Payment `json:"tokens"`
}

// ==================== Administration ====================

// ServiceOptionsRequest carries the options a subscriber registers
type ServiceOptionsRequest struct {
	Options []subscriptionfee.ServiceDescriptor `json:"options"`
}

// PairRequest binds a token to a pair contract
type PairRequest struct {
	Token models.TokenID `json:"token"`
	Pair  string         `json:"pair"` // bech32 address
}

// ThresholdRequest sets an energy threshold
type ThresholdRequest struct {
	Threshold string `json:"threshold"`
}

// PercentagesRequest replaces the fee split of one option
type PercentagesRequest struct {
	ServiceIndex uint32              `json:"service_index"`
	Percentages  mexlock.Percentages `json:"percentages"`
}

// TokensRequest lists tokens to accept
type TokensRequest struct {
	Tokens []models.TokenID `json:"tokens"`
}

// ==================== Subscriptions ====================

// SubscriptionEntry is one option to subscribe to
type SubscriptionEntry struct {
	ServiceID    uint64 `json:"service_id"`
	ServiceIndex uint32 `json:"service_index"`
	Cadence      string `json:"cadence,omitempty"` // none, daily, weekly or monthly
}

// SubscribeRequest represents a subscribe or unsubscribe call
type SubscribeRequest struct {
	Caller        string              `json:"caller"`
	Subscriptions []SubscriptionEntry `json:"subscriptions"`
}

// SubtractPaymentRequest charges one user through a subscriber
type SubtractPaymentRequest struct {
	ServiceIndex uint32 `json:"service_index"`
	UserID       uint64 `json:"user_id"`
}

// ==================== Batch Runs ====================

// RunBatchRequest drives a batch endpoint of a subscriber
type RunBatchRequest struct {
	ServiceIndex uint32   `json:"service_index"`
	AuxArgs      []string `json:"aux_args,omitempty"` // hex encoded
	MinAmountOut string   `json:"min_amount_out,omitempty"`
	MaxCalls     int      `json:"max_calls,omitempty"`
	GasLimit     uint64   `json:"gas_limit,omitempty"`
}

// RunResponse represents a batch run
type RunResponse struct {
	Run *models.OperationRun `json:"run"`
}

// ListRunsResponse represents journaled runs
type ListRunsResponse struct {
	Runs []models.OperationRun `json:"runs"`
}

// ListEventsResponse represents journaled events
type ListEventsResponse struct {
	Events []models.ContractEvent `json:"events"`
}

// TriggerResponse reports how many worker jobs were queued
type TriggerResponse struct {
	Queued int `json:"queued"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Epoch   uint64 `json:"epoch"`
}
