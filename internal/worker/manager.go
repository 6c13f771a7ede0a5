package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"subfee/internal/config"
	"subfee/internal/metrics"
	"subfee/internal/models"
	"subfee/internal/service"
)

// Constants for worker configuration
const (
	DefaultRetryBackoff = 5 * time.Second
	MaxBackoff          = 5 * time.Minute
	RunTimeout          = 2 * time.Minute
)

var ErrShutdownTimeout = errors.New("worker shutdown timed out")

// BatchRunner drives one batch run
type BatchRunner interface {
	RunBatch(ctx context.Context, req service.RunRequest) (*models.OperationRun, error)
}

// EpochClock advances the chain epoch
type EpochClock interface {
	AdvanceEpochs(n uint64) uint64
}

// WorkerManager schedules the configured batch jobs and the epoch ticks
type WorkerManager struct {
	cfg           config.WorkerConfig
	epochSchedule string
	runner        BatchRunner
	clock         EpochClock
	metrics       *metrics.Metrics
	logger        *zap.Logger

	jobs []Job

	// Worker components
	cron     *cron.Cron
	monitor  *Monitor
	executor *Executor

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager creates a new worker manager. m may be nil.
func NewWorkerManager(
	cfg *config.Config,
	runner BatchRunner,
	clock EpochClock,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*WorkerManager, error) {
	logger = logger.Named("worker")

	jobs, err := ParseJobs(cfg.Worker.Jobs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	wm := &WorkerManager{
		cfg:           cfg.Worker,
		epochSchedule: cfg.Chain.EpochSchedule,
		runner:        runner,
		clock:         clock,
		metrics:       m,
		logger:        logger,
		jobs:          jobs,
		ctx:           ctx,
		cancel:        cancel,
	}

	cl := cronLogger{logger: logger.Named("cron").Sugar()}
	wm.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	// Create monitor and executor
	wm.monitor = NewMonitor(wm)
	wm.executor = NewExecutor(wm)

	if wm.epochSchedule != "" {
		if _, err := wm.cron.AddFunc(wm.epochSchedule, wm.monitor.advanceEpoch); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid epoch schedule %q: %w", wm.epochSchedule, err)
		}
	}
	if wm.cfg.Enabled && len(jobs) > 0 {
		if _, err := wm.cron.AddFunc(wm.cfg.Schedule, func() { wm.monitor.enqueueAll() }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid worker schedule %q: %w", wm.cfg.Schedule, err)
		}
	}

	return wm, nil
}

// Jobs returns the configured jobs
func (wm *WorkerManager) Jobs() []Job {
	return append([]Job(nil), wm.jobs...)
}

// Trigger enqueues every configured job now. It returns how many were
// accepted; jobs already waiting are skipped.
func (wm *WorkerManager) Trigger() int {
	if !wm.cfg.Enabled {
		return 0
	}
	return wm.monitor.enqueueAll()
}

// Start starts the scheduler and the executor
func (wm *WorkerManager) Start() {
	wm.logger.Info("Starting worker manager",
		zap.Bool("jobs_enabled", wm.cfg.Enabled),
		zap.Int("num_jobs", len(wm.jobs)),
		zap.String("schedule", wm.cfg.Schedule),
		zap.String("epoch_schedule", wm.epochSchedule))

	if wm.cfg.Enabled {
		wm.wg.Add(1)
		go func() {
			defer wm.wg.Done()
			wm.executor.Run(wm.ctx)
		}()
	}

	wm.cron.Start()
	wm.logger.Info("Worker manager started")
}

// Shutdown stops scheduling, waits for the running job and reports every
// component that did not stop within timeout
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	// Signal workers to stop
	wm.cancel()
	cronDone := wm.cron.Stop().Done()

	executorDone := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(executorDone)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	components := []struct {
		name string
		done <-chan struct{}
	}{
		{"scheduler", cronDone},
		{"executor", executorDone},
	}
	var errs error
	expired := false
	for _, c := range components {
		if !expired {
			select {
			case <-c.done:
				continue
			case <-timer.C:
				expired = true
			}
		}
		select {
		case <-c.done:
		default:
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrShutdownTimeout, c.name))
		}
	}

	if errs != nil {
		wm.logger.Warn("Worker shutdown incomplete", zap.Error(errs))
		return errs
	}
	wm.logger.Info("Worker manager shutdown complete")
	return nil
}

// cronLogger adapts zap to the cron logger interface
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
