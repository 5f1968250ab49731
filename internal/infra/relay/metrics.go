package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 暴露中继连接状态、重连次数与请求延迟。
type Metrics struct {
	connected      prometheus.Gauge
	reconnects     prometheus.Counter
	requestLatency *prometheus.HistogramVec
	requestFails   *prometheus.CounterVec
}

// NewMetrics 在注册器中注册中继指标，reg 为空则使用默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge_wallet",
			Subsystem: "relay",
			Name:      "connected",
			Help:      "1 while the relay websocket is established",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge_wallet",
			Subsystem: "relay",
			Name:      "reconnects_total",
			Help:      "Relay websocket drops followed by a reconnect attempt",
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bridge_wallet",
			Subsystem: "relay",
			Name:      "request_latency_ms",
			Help:      "Round trip of relay JSON-RPC calls in milliseconds",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		}, []string{"method"}),
		requestFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge_wallet",
			Subsystem: "relay",
			Name:      "request_fail_total",
			Help:      "Failed relay JSON-RPC calls by reason",
		}, []string{"method", "reason"}),
	}
	reg.MustRegister(m.connected, m.reconnects, m.requestLatency, m.requestFails)
	return m
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) incReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) observe(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(method).Observe(float64(d.Microseconds()) / 1000)
}

func (m *Metrics) incFail(method, reason string) {
	if m == nil {
		return
	}
	m.requestFails.WithLabelValues(method, reason).Inc()
}
