package ipc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for a peer. A nil *Metrics records
// nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	handled  *prometheus.CounterVec
	handling *prometheus.HistogramVec
	pending  prometheus.Gauge
}

// NewMetrics creates and registers the peer collectors on reg.
// side labels which end of the link this process is ("module" or "host").
func NewMetrics(reg prometheus.Registerer, side string) *Metrics {
	labels := prometheus.Labels{"side": side}
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "modkit",
			Subsystem:   "ipc",
			Name:        "calls_total",
			Help:        "Outbound calls by method and outcome",
			ConstLabels: labels,
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "modkit",
			Subsystem:   "ipc",
			Name:        "call_duration_seconds",
			Help:        "Time from sending a call to its response",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "modkit",
			Subsystem:   "ipc",
			Name:        "handled_total",
			Help:        "Inbound calls by method and outcome",
			ConstLabels: labels,
		}, []string{"method", "outcome"}),
		handling: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "modkit",
			Subsystem:   "ipc",
			Name:        "handle_duration_seconds",
			Help:        "Time from receiving a call to replying",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "modkit",
			Subsystem:   "ipc",
			Name:        "pending_calls",
			Help:        "Outbound calls awaiting a response",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.latency, m.handled, m.handling, m.pending)
	}
	return m
}

func (m *Metrics) observeCall(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) observeHandled(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(method, outcome).Inc()
	m.handling.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) pendingInc() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) pendingDec() {
	if m == nil {
		return
	}
	m.pending.Dec()
}
