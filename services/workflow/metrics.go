package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records dispatch and compilation counters. A nil *Metrics is a no-op.
type Metrics struct {
	bridgeCalls    *prometheus.CounterVec
	bridgeDuration *prometheus.HistogramVec
	firings        *prometheus.CounterVec
	compilations   *prometheus.CounterVec
}

// NewMetrics creates the workflow collectors and registers them on reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_bridge_calls_total",
			Help: "Bridge calls issued by the dispatcher.",
		}, []string{"action", "status"}),
		bridgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_bridge_call_duration_seconds",
			Help:    "Bridge call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_firings_total",
			Help: "Trigger firings by outcome.",
		}, []string{"status"}),
		compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_compilations_total",
			Help: "Workflow compilations by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.bridgeCalls, m.bridgeDuration, m.firings, m.compilations)
	}
	return m
}

func (m *Metrics) observeCall(action Category, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.bridgeCalls.With(prometheus.Labels{"action": string(action), "status": status}).Inc()
	m.bridgeDuration.With(prometheus.Labels{"action": string(action)}).Observe(d.Seconds())
}

func (m *Metrics) observeFiring(status string) {
	if m == nil {
		return
	}
	m.firings.With(prometheus.Labels{"status": status}).Inc()
}

func (m *Metrics) observeCompile(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.compilations.With(prometheus.Labels{"result": result}).Inc()
}
