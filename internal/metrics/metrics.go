package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one proxy deployment.
// Each instance owns its registry, so independent proxies never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Dispatch metrics
	CallsTotal           *prometheus.CounterVec
	InvocationsTotal     *prometheus.CounterVec
	InvocationDuration   *prometheus.HistogramVec
	DroppedCallsTotal    *prometheus.CounterVec
	DeprecatedCallsTotal *prometheus.CounterVec
	TrackersRegistered   prometheus.Gauge
	QueueDepth           prometheus.Gauge

	// Ingress metrics
	IngressRequestsTotal *prometheus.CounterVec
	IngressCallsTotal    *prometheus.CounterVec

	// Scheduler metrics
	ScheduledPushesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackq_calls_total",
				Help: "Total number of call descriptors dispatched",
			},
			[]string{"kind"},
		),
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackq_invocations_total",
				Help: "Total number of tracker invocations by operation and status",
			},
			[]string{"operation", "status"},
		),
		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trackq_invocation_duration_seconds",
				Help:    "Duration of tracker invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		DroppedCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackq_dropped_calls_total",
				Help: "Total number of calls that reached no tracker",
			},
			[]string{"reason"},
		),
		DeprecatedCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackq_deprecated_calls_total",
				Help: "Total number of legacy collector calls",
			},
			[]string{"operation"},
		),
		TrackersRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trackq_trackers_registered",
				Help: "Number of trackers currently registered",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trackq_queue_depth",
				Help: "Number of calls waiting to be dispatched",
			},
		),

		IngressRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackq_ingress_requests_total",
				Help: "Total number of ingress requests by transport and status",
			},
			[]string{"transport", "status"},
		),
		IngressCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackq_ingress_calls_total",
				Help: "Total number of call descriptors accepted by ingress",
			},
			[]string{"transport"},
		),

		ScheduledPushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackq_scheduled_pushes_total",
				Help: "Total number of scheduled pushes by job",
			},
			[]string{"job"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.CallsTotal)
	m.registry.MustRegister(m.InvocationsTotal)
	m.registry.MustRegister(m.InvocationDuration)
	m.registry.MustRegister(m.DroppedCallsTotal)
	m.registry.MustRegister(m.DeprecatedCallsTotal)
	m.registry.MustRegister(m.TrackersRegistered)
	m.registry.MustRegister(m.QueueDepth)

	m.registry.MustRegister(m.IngressRequestsTotal)
	m.registry.MustRegister(m.IngressCallsTotal)

	m.registry.MustRegister(m.ScheduledPushesTotal)
}

// RecordCall counts one dispatched descriptor. Safe on a nil receiver.
func (m *Metrics) RecordCall(kind string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(kind).Inc()
}

// RecordInvocation records the outcome of invoking one operation on one tracker.
func (m *Metrics) RecordInvocation(operation string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.InvocationsTotal.WithLabelValues(operation, status).Inc()
	m.InvocationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedCallsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDeprecated(operation string) {
	if m == nil {
		return
	}
	m.DeprecatedCallsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) SetTrackers(count int) {
	if m == nil {
		return
	}
	m.TrackersRegistered.Set(float64(count))
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordIngress records one ingress request and the number of calls it carried.
func (m *Metrics) RecordIngress(transport string, status string, calls int) {
	if m == nil {
		return
	}
	m.IngressRequestsTotal.WithLabelValues(transport, status).Inc()
	if calls > 0 {
		m.IngressCallsTotal.WithLabelValues(transport).Add(float64(calls))
	}
}

func (m *Metrics) RecordScheduledPush(job string) {
	if m == nil {
		return
	}
	m.ScheduledPushesTotal.WithLabelValues(job).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
