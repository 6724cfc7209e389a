// Package metrics holds the Prometheus instrumentation for the control
// plane's own behavior. Per server health samples go to the sample sink, not
// here; these series describe the loop and the API, not the fleet.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ControlPlaneMetrics holds the registered metric vectors.
type ControlPlaneMetrics struct {
	// CycleDuration captures one full discover plus probe plus publish pass.
	CycleDuration *prometheus.HistogramVec
	ProbeLatency  *prometheus.HistogramVec
	ServersTotal  *prometheus.GaugeVec
	LifecycleOps  *prometheus.CounterVec
	CycleFailures prometheus.Counter
}

// NewControlPlaneMetrics creates and registers the metric vectors on the
// default registry.
func NewControlPlaneMetrics() *ControlPlaneMetrics {
	return NewControlPlaneMetricsWith(prometheus.DefaultRegisterer)
}

// NewControlPlaneMetricsWith registers on a caller supplied registry. Tests
// use this to avoid duplicate registration on the process global one.
func NewControlPlaneMetricsWith(reg prometheus.Registerer) *ControlPlaneMetrics {
	factory := promauto.With(reg)
	return &ControlPlaneMetrics{
		CycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filestand_broadcast_cycle_duration_seconds",
				Help:    "Duration of one status broadcast cycle in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		ProbeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filestand_probe_latency_seconds",
				Help:    "Latency of TCP health probes in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
			},
			[]string{"protocol", "healthy"},
		),
		ServersTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filestand_servers",
				Help: "Discovered servers by health state as of the last cycle",
			},
			[]string{"state"},
		),
		LifecycleOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filestand_lifecycle_operations_total",
				Help: "Total lifecycle operations by kind and outcome",
			},
			[]string{"operation", "outcome"},
		),
		CycleFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "filestand_broadcast_cycle_failures_total",
				Help: "Total broadcast cycles that aborted before publishing",
			},
		),
	}
}

// ObserveCycle records one finished broadcast cycle.
func (m *ControlPlaneMetrics) ObserveCycle(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.CycleFailures.Inc()
	}
	m.CycleDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveProbe records one probe result.
func (m *ControlPlaneMetrics) ObserveProbe(protocol string, healthy bool, latency time.Duration) {
	state := "false"
	if healthy {
		state = "true"
	}
	m.ProbeLatency.WithLabelValues(protocol, state).Observe(latency.Seconds())
}

// SetServerCounts publishes the fleet size of the last cycle.
func (m *ControlPlaneMetrics) SetServerCounts(healthy, total int) {
	m.ServersTotal.WithLabelValues("healthy").Set(float64(healthy))
	m.ServersTotal.WithLabelValues("unhealthy").Set(float64(total - healthy))
}

// ObserveLifecycleOp counts one lifecycle mutation.
func (m *ControlPlaneMetrics) ObserveLifecycleOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LifecycleOps.WithLabelValues(operation, outcome).Inc()
}
