package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/status"
)

// RPCMetrics records robot bridge calls served by sim-bridge
type RPCMetrics struct {
	registry *prometheus.Registry

	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	panics   prometheus.Counter

	succeeded atomic.Int64
	failed    atomic.Int64
	startTime time.Time
}

// NewRPCMetrics registers the bridge collectors on a fresh registry
func NewRPCMetrics() *RPCMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &RPCMetrics{
		registry: reg,
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "robot_bridge_calls_total",
			Help: "Bridge calls served, by method and status code",
		}, []string{"method", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "robot_bridge_call_duration_seconds",
			Help:    "Bridge call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Name: "robot_bridge_panics_total",
			Help: "Handler panics recovered",
		}),
		startTime: time.Now(),
	}
}

func (m *RPCMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCall records one finished call
func (m *RPCMetrics) ObserveCall(method string, d time.Duration, err error) {
	m.calls.WithLabelValues(method, status.Code(err).String()).Inc()
	m.duration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.failed.Add(1)
	} else {
		m.succeeded.Add(1)
	}
}

// ObservePanic counts a recovered handler panic
func (m *RPCMetrics) ObservePanic(string) {
	m.panics.Inc()
}

func (m *RPCMetrics) GetStats() map[string]interface{} {
	ok, failed := m.succeeded.Load(), m.failed.Load()
	successRate := 0.0
	if total := ok + failed; total > 0 {
		successRate = float64(ok) / float64(total)
	}
	return map[string]interface{}{
		"uptime":          time.Since(m.startTime).String(),
		"successful_rpcs": ok,
		"failed_rpcs":     failed,
		"success_rate":    successRate,
	}
}
