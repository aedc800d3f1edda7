package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "etron"

// Dispatch failure reasons.
const (
	ReasonTargetGone  = "target_gone"
	ReasonSendFailed  = "send_failed"
	ReasonBroadcast   = "broadcast"
	ReasonUnsupported = "unsupported"
	ReasonPanic       = "panic"
)

// Metrics holds the relay's collectors.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	routerMessages    *prometheus.CounterVec
	dispatchFailures  *prometheus.CounterVec
	broadcastLagged   prometheus.Counter
	decodeErrors      prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of connected websocket clients.",
		}),
		routerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "messages_total",
			Help:      "Messages taken off the router inbound channel, by body kind.",
		}, []string{"kind"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_failures_total",
			Help:      "Messages the router could not deliver, by reason.",
		}, []string{"reason"}),
		broadcastLagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "lagged_total",
			Help:      "Broadcast messages skipped by slow subscribers.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames that failed to decode.",
		}),
	}

	m.registry.MustRegister(
		m.connectionsActive,
		m.routerMessages,
		m.dispatchFailures,
		m.broadcastLagged,
		m.decodeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) MessageRouted(kind string) {
	if m == nil {
		return
	}
	m.routerMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) DispatchFailed(reason string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) BroadcastLagged(missed uint64) {
	if m == nil {
		return
	}
	m.broadcastLagged.Add(float64(missed))
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}
