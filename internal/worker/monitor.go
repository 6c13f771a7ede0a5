package worker

import (
	"sync"

	"go.uber.org/zap"
)

// Monitor turns schedule ticks into queued jobs and epoch advances
type Monitor struct {
	manager *WorkerManager
	logger  *zap.Logger

	// Channel to send jobs ready for execution
	queue chan Job

	mu      sync.Mutex
	pending map[string]bool
}

// NewMonitor creates a new monitor
func NewMonitor(manager *WorkerManager) *Monitor {
	size := manager.cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	return &Monitor{
		manager: manager,
		logger:  manager.logger.Named("monitor"),
		queue:   make(chan Job, size),
		pending: make(map[string]bool),
	}
}

// enqueueAll queues every configured job not already waiting
func (m *Monitor) enqueueAll() int {
	accepted := 0
	for _, job := range m.manager.jobs {
		if m.enqueue(job) {
			accepted++
		}
	}
	m.logger.Debug("Jobs enqueued",
		zap.Int("accepted", accepted),
		zap.Int("configured", len(m.manager.jobs)))
	return accepted
}

func (m *Monitor) enqueue(job Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[job.Key()] {
		return false
	}
	select {
	case m.queue <- job:
	default:
		m.logger.Warn("Job queue full, skipping", zap.String("job", job.Key()))
		return false
	}
	m.pending[job.Key()] = true
	m.setQueueSize()
	return true
}

// done releases a job taken off the queue so the next tick can queue it again
func (m *Monitor) done(job Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, job.Key())
	m.setQueueSize()
}

func (m *Monitor) setQueueSize() {
	if m.manager.metrics != nil {
		m.manager.metrics.JobQueueSize.Set(float64(len(m.queue)))
	}
}

// advanceEpoch moves the chain one epoch forward
func (m *Monitor) advanceEpoch() {
	epoch := m.manager.clock.AdvanceEpochs(1)
	if m.manager.metrics != nil {
		m.manager.metrics.Epoch.Set(float64(epoch))
	}
	m.logger.Info("Epoch advanced", zap.Uint64("epoch", epoch))
}
