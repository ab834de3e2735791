package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bus metrics on a private Prometheus registry so tests can
// run independent instances.
type Metrics struct {
	registry *prometheus.Registry

	Published         *prometheus.CounterVec
	BroadcastFailures prometheus.Counter
	Dispatched        *prometheus.CounterVec
	HandlerFailures   *prometheus.CounterVec
	Consumed          prometheus.Counter
	Reprocessed       prometheus.Counter
	UnconsumedBacklog prometheus.Gauge
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentbus_messages_published_total",
			Help: "Messages durably recorded by the publisher.",
		}, []string{"channel"}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentbus_broadcast_failures_total",
			Help: "Best-effort broadcasts that failed and were left to the reprocessor.",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentbus_messages_dispatched_total",
			Help: "Broker deliveries dispatched to a registered handler.",
		}, []string{"channel"}),
		HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentbus_handler_failures_total",
			Help: "Handler invocations that returned an error.",
		}, []string{"channel"}),
		Consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentbus_messages_consumed_total",
			Help: "Messages acknowledged in the durable log.",
		}),
		Reprocessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentbus_messages_reprocessed_total",
			Help: "Stale messages rebroadcast by the dead-letter reprocessor.",
		}),
		UnconsumedBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentbus_unconsumed_backlog",
			Help: "Unconsumed messages in the durable log, updated on stats reads.",
		}),
	}

	registry.MustRegister(
		m.Published,
		m.BroadcastFailures,
		m.Dispatched,
		m.HandlerFailures,
		m.Consumed,
		m.Reprocessed,
		m.UnconsumedBacklog,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
