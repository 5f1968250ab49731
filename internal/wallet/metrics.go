package wallet

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录会话、签名路由、密钥授权与远端请求的关键指标。
type Metrics struct {
	sessionState    *prometheus.GaugeVec
	signRoute       *prometheus.CounterVec
	provisionTotal  *prometheus.CounterVec
	purgedKeys      prometheus.Counter
	remoteLatency   *prometheus.HistogramVec
	remoteFailTotal *prometheus.CounterVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_wallet_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		signRoute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_wallet_sign_route_total",
			Help: "Sign requests by route (local or remote) and form (single or batch)",
		}, []string{"route", "form"}),
		provisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_wallet_provision_total",
			Help: "Access key provisioning attempts by outcome",
		}, []string{"outcome"}),
		purgedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_wallet_purged_keys_total",
			Help: "Delegated keys purged after accounts left the session",
		}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_wallet_remote_request_latency_ms",
			Help:    "Latency of requests to the remote signer in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000, 30000},
		}, []string{"op"}),
		remoteFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_wallet_remote_request_fail_total",
			Help: "Failed requests to the remote signer by reason",
		}, []string{"op", "reason"}),
	}
	reg.MustRegister(m.sessionState, m.signRoute, m.provisionTotal, m.purgedKeys, m.remoteLatency, m.remoteFailTotal)
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	for _, candidate := range allStates {
		v := 0.0
		if candidate == s {
			v = 1
		}
		m.sessionState.WithLabelValues(string(candidate)).Set(v)
	}
}

func (m *Metrics) incRoute(route, form string) {
	if m == nil {
		return
	}
	m.signRoute.WithLabelValues(route, form).Inc()
}

func (m *Metrics) incProvision(outcome string) {
	if m == nil {
		return
	}
	m.provisionTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) addPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.purgedKeys.Add(float64(n))
}

func (m *Metrics) observeRemote(op string, durMs float64) {
	if m == nil {
		return
	}
	m.remoteLatency.WithLabelValues(op).Observe(durMs)
}

func (m *Metrics) incRemoteFail(op, reason string) {
	if m == nil {
		return
	}
	m.remoteFailTotal.WithLabelValues(op, reason).Inc()
}
