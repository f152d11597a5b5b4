package telemetry

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the live-session counters exposed on /metrics.
type Metrics struct {
	actions *prometheus.CounterVec
	sockets *prometheus.GaugeVec
	evicted *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "live_quiz",
			Name:      "actions_total",
			Help:      "Control actions dispatched, by action and outcome.",
		}, []string{"action", "outcome"}),
		sockets: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "live_quiz",
			Name:      "open_sockets",
			Help:      "Open websocket connections, by kind.",
		}, []string{"kind"}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "live_quiz",
			Name:      "evicted_subscribers_total",
			Help:      "Subscribers dropped because their buffer was full, by topic kind.",
		}, []string{"kind"}),
	}
}

// ObserveAction matches app.ActionObserver.
func (m *Metrics) ObserveAction(action, outcome string) {
	m.actions.WithLabelValues(action, outcome).Inc()
}

// SocketOpened increments the gauge and returns the matching decrement.
func (m *Metrics) SocketOpened(kind string) func() {
	g := m.sockets.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}

// SubscriberEvicted matches the broadcast eviction hook. Topic ids are
// dropped to keep the label set small.
func (m *Metrics) SubscriberEvicted(topic string) {
	kind, _, _ := strings.Cut(topic, "_")
	m.evicted.WithLabelValues(kind).Inc()
}
