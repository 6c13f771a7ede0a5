// Package metrics exposes the keeper and event counters of the node
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"subfee/internal/chain"
)

const namespace = "subfee"

// Metrics holds the collectors of one node. Each node owns its registry so
// tests can create several.
type Metrics struct {
	registry *prometheus.Registry

	Runs         *prometheus.CounterVec
	Calls        *prometheus.CounterVec
	GasUsed      *prometheus.CounterVec
	Interrupted  *prometheus.CounterVec
	Events       *prometheus.CounterVec
	Epoch        prometheus.Gauge
	JobQueueSize prometheus.Gauge
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_runs_total",
			Help:      "Finished keeper runs by subscriber, kind and status.",
		}, []string{"subscriber", "kind", "status"}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_calls_total",
			Help:      "Contract calls made by keeper runs.",
		}, []string{"subscriber", "kind"}),
		GasUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_gas_used_total",
			Help:      "Gas consumed by keeper runs.",
		}, []string{"subscriber", "kind"}),
		Interrupted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_interrupted_calls_total",
			Help:      "Calls that ran out of gas and saved progress.",
		}, []string{"subscriber", "kind"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_events_total",
			Help:      "Committed contract events by identifier.",
		}, []string{"identifier"}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_epoch",
			Help:      "Current chain epoch.",
		}),
		JobQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_size",
			Help:      "Keeper jobs waiting for an executor.",
		}),
	}

	m.registry.MustRegister(
		m.Runs, m.Calls, m.GasUsed, m.Interrupted, m.Events, m.Epoch, m.JobQueueSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCall records one contract call of a keeper run
func (m *Metrics) ObserveCall(subscriber, kind string, gasUsed uint64, interrupted bool) {
	m.Calls.WithLabelValues(subscriber, kind).Inc()
	m.GasUsed.WithLabelValues(subscriber, kind).Add(float64(gasUsed))
	if interrupted {
		m.Interrupted.WithLabelValues(subscriber, kind).Inc()
	}
}

// ObserveRun records a finished keeper run
func (m *Metrics) ObserveRun(subscriber, kind, status string) {
	m.Runs.WithLabelValues(subscriber, kind, status).Inc()
}

var _ chain.EventSink = (*Metrics)(nil)

// HandleEvents implements chain.EventSink
func (m *Metrics) HandleEvents(_ context.Context, receipt *chain.Receipt) error {
	m.Epoch.Set(float64(receipt.Epoch))
	for _, e := range receipt.Events {
		m.Events.WithLabelValues(e.Identifier).Inc()
	}
	return nil
}
