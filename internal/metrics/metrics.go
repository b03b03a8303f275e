// Package metrics provides Prometheus metrics for socks5d.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "socks5d"
)

// Metrics contains all Prometheus metrics for the proxy.
type Metrics struct {
	// Session metrics
	SOCKS5Connections      prometheus.Gauge
	SOCKS5ConnectionsTotal prometheus.Counter
	SOCKS5AuthFailures     prometheus.Counter
	SOCKS5ConnectLatency   prometheus.Histogram

	// Relay metrics
	BytesRelayed *prometheus.CounterVec

	// UDP relay metrics
	UDPDatagramsRelayed *prometheus.CounterVec

	// Supervisor metrics
	WorkersAlive     prometheus.Gauge
	WorkerRespawns   prometheus.Counter
	WorkerExits      *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SOCKS5Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active SOCKS5 sessions",
		}),
		SOCKS5ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total SOCKS5 sessions accepted",
		}),
		SOCKS5AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total SOCKS5 authentication failures",
		}),
		SOCKS5ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_seconds",
			Help:      "Histogram of CONNECT request latency",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		BytesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Total bytes relayed by direction",
		}, []string{"direction"}),
		UDPDatagramsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_datagrams_total",
			Help:      "Total UDP datagrams relayed by direction",
		}, []string{"direction"}),
		WorkersAlive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_alive",
			Help:      "Number of live worker processes",
		}),
		WorkerRespawns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_respawns_total",
			Help:      "Total number of worker process respawns",
		}),
		WorkerExits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Total worker process exits by reason",
		}, []string{"reason"}),
	}
}

// RecordSOCKS5Connect records a SOCKS5 session starting.
func (m *Metrics) RecordSOCKS5Connect() {
	m.SOCKS5Connections.Inc()
	m.SOCKS5ConnectionsTotal.Inc()
}

// RecordSOCKS5Disconnect records a SOCKS5 session ending.
func (m *Metrics) RecordSOCKS5Disconnect() {
	m.SOCKS5Connections.Dec()
}

// RecordSOCKS5AuthFailure records a SOCKS5 auth failure.
func (m *Metrics) RecordSOCKS5AuthFailure() {
	m.SOCKS5AuthFailures.Inc()
}

// RecordSOCKS5Latency records CONNECT request latency.
func (m *Metrics) RecordSOCKS5Latency(latencySeconds float64) {
	m.SOCKS5ConnectLatency.Observe(latencySeconds)
}

// RecordBytesRelayed records bytes relayed in one direction ("up" or "down").
func (m *Metrics) RecordBytesRelayed(direction string, n int) {
	m.BytesRelayed.WithLabelValues(direction).Add(float64(n))
}

// RecordUDPDatagram records a relayed UDP datagram in one direction.
func (m *Metrics) RecordUDPDatagram(direction string) {
	m.UDPDatagramsRelayed.WithLabelValues(direction).Inc()
}

// SetWorkersAlive sets the current count of live workers.
func (m *Metrics) SetWorkersAlive(n int) {
	m.WorkersAlive.Set(float64(n))
}

// RecordWorkerRespawn records a worker being respawned.
func (m *Metrics) RecordWorkerRespawn() {
	m.WorkerRespawns.Inc()
}

// RecordWorkerExit records a worker exiting, labeled by reason. The supervisor
// records "exit" for a zero exit status and "crash" for anything else,
// including termination by a signal.
func (m *Metrics) RecordWorkerExit(reason string) {
	m.WorkerExits.WithLabelValues(reason).Inc()
}
