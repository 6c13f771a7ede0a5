package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"subfee/internal/node"
	"subfee/internal/service"
)

// Executor runs queued jobs one at a time
type Executor struct {
	manager *WorkerManager
	logger  *zap.Logger
}

// NewExecutor creates a new job executor
func NewExecutor(manager *WorkerManager) *Executor {
	return &Executor{
		manager: manager,
		logger:  manager.logger.Named("executor"),
	}
}

// Run starts the executor loop
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("Executor started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Executor stopping")
			return
		case job := <-e.manager.monitor.queue:
			e.handleJob(ctx, job)
			e.manager.monitor.done(job)
		}
	}
}

// handleJob runs one job, retrying failures with exponential backoff
func (e *Executor) handleJob(ctx context.Context, job Job) {
	req := service.RunRequest{
		Subscriber:   job.Subscriber,
		ServiceIndex: job.ServiceIndex,
		Kind:         job.Kind,
		MaxCalls:     e.manager.cfg.MaxCallsPerRun,
	}

	for attempt := 0; ; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, RunTimeout)
		run, err := e.manager.runner.RunBatch(runCtx, req)
		cancel()

		if err == nil {
			e.logger.Info("Job finished",
				zap.String("job", job.Key()),
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Int("calls", run.Calls))
			return
		}

		if !retryable(err) || attempt >= e.manager.cfg.MaxRetries {
			e.logger.Error("Job failed",
				zap.String("job", job.Key()),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return
		}

		delay := e.backoff(attempt)
		e.logger.Warn("Job failed, retrying",
			zap.String("job", job.Key()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff_delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (e *Executor) backoff(attempt int) time.Duration {
	base := e.manager.cfg.RetryBackoff
	if base <= 0 {
		base = DefaultRetryBackoff
	}
	if attempt > 16 {
		return MaxBackoff
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}

// retryable reports whether a failed run may succeed on a later attempt
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, node.ErrUnknownSubscriber),
		errors.Is(err, service.ErrNoMexOperations),
		errors.Is(err, service.ErrUnknownKind):
		return false
	default:
		return true
	}
}
