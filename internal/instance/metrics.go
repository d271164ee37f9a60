package instance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for an instance. A nil *Metrics
// records nothing.
type Metrics struct {
	lifecycle     *prometheus.CounterVec
	lifecycleTime *prometheus.HistogramVec
	evaluations   *prometheus.CounterVec
	hookFailures  *prometheus.CounterVec
	registry      *prometheus.GaugeVec
	queueDepth    prometheus.Gauge
	state         prometheus.Gauge
}

// NewMetrics creates and registers the instance collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkit",
			Subsystem: "instance",
			Name:      "lifecycle_total",
			Help:      "Lifecycle operations by method and outcome",
		}, []string{"method", "outcome"}),
		lifecycleTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modkit",
			Subsystem: "instance",
			Name:      "lifecycle_duration_seconds",
			Help:      "Time spent running a lifecycle operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkit",
			Subsystem: "instance",
			Name:      "feedback_evaluations_total",
			Help:      "Feedback callback runs by outcome",
		}, []string{"outcome"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkit",
			Subsystem: "instance",
			Name:      "hook_failures_total",
			Help:      "Failed subscribe and unsubscribe hooks",
		}, []string{"hook"}),
		registry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "modkit",
			Subsystem: "instance",
			Name:      "registered_items",
			Help:      "Registered action and feedback instances",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modkit",
			Subsystem: "instance",
			Name:      "lifecycle_queue_depth",
			Help:      "Lifecycle operations waiting to run",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modkit",
			Subsystem: "instance",
			Name:      "initialized",
			Help:      "1 while the instance is initialized",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.lifecycle, m.lifecycleTime, m.evaluations, m.hookFailures,
			m.registry, m.queueDepth, m.state)
	}
	return m
}

func (m *Metrics) observeLifecycle(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.lifecycle.WithLabelValues(method, outcome).Inc()
	m.lifecycleTime.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) feedbackEvaluated(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) hookFailed(hook string) {
	if m == nil {
		return
	}
	m.hookFailures.WithLabelValues(hook).Inc()
}

func (m *Metrics) setRegistrySize(kind string, n int) {
	if m == nil {
		return
	}
	m.registry.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) setQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	if s == StateInitialized {
		m.state.Set(1)
		return
	}
	m.state.Set(0)
}
