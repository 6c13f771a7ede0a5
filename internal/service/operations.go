package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"subfee/internal/chain"
	"subfee/internal/metrics"
	"subfee/internal/models"
	"subfee/internal/node"
	"subfee/internal/ongoing"
)

var (
	ErrNoMexOperations = errors.New("subscriber has no mex operations")
	ErrUnknownKind     = errors.New("unknown operation kind")
)

// RunJournal stores the progress of batch runs
type RunJournal interface {
	CreateRun(ctx context.Context, run *models.OperationRun) error
	UpdateRun(ctx context.Context, run *models.OperationRun) error
}

// NopJournal discards runs. It is used when no database is configured.
type NopJournal struct{}

func (NopJournal) CreateRun(context.Context, *models.OperationRun) error { return nil }
func (NopJournal) UpdateRun(context.Context, *models.OperationRun) error { return nil }

// RunRequest selects the batch a run drives
type RunRequest struct {
	Subscriber   string
	ServiceIndex uint32
	Kind         models.OperationKind
	// AuxArgs is passed to every PerformService call
	AuxArgs [][]byte
	// MinAmountOut bounds the MEX bought per fee group; nil means one unit
	MinAmountOut *math.Int
	// MaxCalls overrides the service default when positive
	MaxCalls int
	// GasLimit overrides the service default when positive
	GasLimit uint64
}

// OperationService drives the gas-bounded batch endpoints to completion,
// one transaction per call, and journals every run
type OperationService struct {
	node     *node.Node
	journal  RunJournal
	metrics  *metrics.Metrics
	maxCalls int
	gasLimit uint64
	logger   *zap.Logger
}

// NewOperationService creates a new operation service. A zero gasLimit
// uses the chain default.
func NewOperationService(
	n *node.Node,
	journal RunJournal,
	m *metrics.Metrics,
	maxCalls int,
	gasLimit uint64,
	logger *zap.Logger,
) *OperationService {
	if journal == nil {
		journal = NopJournal{}
	}
	return &OperationService{
		node:     n,
		journal:  journal,
		metrics:  m,
		maxCalls: maxCalls,
		gasLimit: gasLimit,
		logger:   logger.Named("operations"),
	}
}

// RunBatch calls the requested endpoint until it reports completion or the
// call budget runs out. The returned run is INTERRUPTED in the latter case
// and the next run resumes from the saved checkpoint.
func (s *OperationService) RunBatch(ctx context.Context, req RunRequest) (*models.OperationRun, error) {
	sub, err := s.node.Subscriber(req.Subscriber)
	if err != nil {
		return nil, err
	}
	call, err := s.callFor(sub, req)
	if err != nil {
		return nil, err
	}

	maxCalls := s.maxCalls
	if req.MaxCalls > 0 {
		maxCalls = req.MaxCalls
	}
	gasLimit := s.gasLimit
	if req.GasLimit > 0 {
		gasLimit = req.GasLimit
	}

	run := &models.OperationRun{
		ID:           uuid.NewString(),
		Subscriber:   sub.Name,
		Kind:         req.Kind,
		ServiceIndex: int64(req.ServiceIndex),
		Status:       models.RunStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.journal.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	logger := s.logger.With(
		zap.String("run_id", run.ID),
		zap.String("subscriber", sub.Name),
		zap.String("kind", string(req.Kind)),
		zap.Uint32("service_index", req.ServiceIndex))
	logger.Info("Run started", zap.Int("max_calls", maxCalls))

	run.Status = models.RunStatusInterrupted
	for run.Calls < maxCalls {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}

		var status ongoing.Status
		receipt, execErr := s.node.Chain.Execute(ctx, chain.Tx{
			Caller:   s.node.Keeper(),
			To:       sub.Address,
			GasLimit: gasLimit,
		}, func(c *chain.Ctx) error {
			var callErr error
			status, callErr = call(c)
			return callErr
		})
		run.Calls++
		if execErr != nil {
			err = execErr
			break
		}

		hash := receipt.TxHash
		run.LastTxHash = &hash
		run.GasUsed += int64(receipt.GasUsed)
		if s.metrics != nil {
			s.metrics.ObserveCall(sub.Name, string(req.Kind), receipt.GasUsed, status == ongoing.StatusInterrupted)
		}

		logger.Debug("Call finished",
			zap.Int("call", run.Calls),
			zap.String("status", string(status)),
			zap.Uint64("gas_used", receipt.GasUsed))

		if status == ongoing.StatusCompleted {
			run.Status = models.RunStatusCompleted
			break
		}
	}

	if err != nil {
		run.Status = models.RunStatusFailed
		msg := err.Error()
		run.ErrorMessage = &msg
	}
	finished := time.Now().UTC()
	run.FinishedAt = &finished

	if updateErr := s.journal.UpdateRun(ctx, run); updateErr != nil {
		logger.Error("Failed to store run", zap.Error(updateErr))
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(sub.Name, string(req.Kind), string(run.Status))
	}

	if err != nil {
		logger.Warn("Run failed", zap.Int("calls", run.Calls), zap.Error(err))
		return run, err
	}
	logger.Info("Run finished",
		zap.String("status", string(run.Status)),
		zap.Int("calls", run.Calls),
		zap.Int64("gas_used", run.GasUsed))
	return run, nil
}

func (s *OperationService) callFor(sub *node.Subscriber, req RunRequest) (func(*chain.Ctx) (ongoing.Status, error), error) {
	switch req.Kind {
	case models.OperationKindPerformService:
		return func(c *chain.Ctx) (ongoing.Status, error) {
			return sub.Contract.PerformService(c, req.ServiceIndex, req.AuxArgs)
		}, nil
	case models.OperationKindMexOperations:
		if sub.Mex == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoMexOperations, sub.Name)
		}
		minOut := math.OneInt()
		if req.MinAmountOut != nil {
			minOut = *req.MinAmountOut
		}
		return func(c *chain.Ctx) (ongoing.Status, error) {
			return sub.Mex.PerformMexOperations(c, req.ServiceIndex, minOut)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
}
