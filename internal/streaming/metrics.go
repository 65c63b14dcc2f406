package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the streaming core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	messagesDecoded   prometheus.Counter
	decodeErrors      prometheus.Counter
	messagesPushed    *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	resetsRequested   prometheus.Counter
	upstreamConnected prometheus.Gauge
	downstreamClients *prometheus.GaugeVec
}

// NewMetrics creates the streaming metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradegateway",
			Subsystem: "upstream",
			Name:      "frames_received_total",
			Help:      "Total frames received from the broker stream",
		}, []string{"type"}),

		messagesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradegateway",
			Subsystem: "upstream",
			Name:      "messages_decoded_total",
			Help:      "Total logical messages decoded from binary frames",
		}),

		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradegateway",
			Subsystem: "upstream",
			Name:      "decode_errors_total",
			Help:      "Total messages dropped by the frame decoder",
		}),

		messagesPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradegateway",
			Subsystem: "fanout",
			Name:      "messages_pushed_total",
			Help:      "Total successful sends to downstream sinks",
		}, []string{"scope"}),

		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradegateway",
			Subsystem: "upstream",
			Name:      "reconnect_attempts_total",
			Help:      "Total upstream connection attempts after a failure or disconnect",
		}),

		resetsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradegateway",
			Subsystem: "upstream",
			Name:      "resets_total",
			Help:      "Total server-requested stream resets",
		}),

		upstreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradegateway",
			Subsystem: "upstream",
			Name:      "connected",
			Help:      "1 while the broker stream is connected",
		}),

		downstreamClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradegateway",
			Subsystem: "downstream",
			Name:      "clients",
			Help:      "Connected downstream WebSocket clients",
		}, []string{"scope"}),
	}

	collectors := []prometheus.Collector{
		m.framesReceived,
		m.messagesDecoded,
		m.decodeErrors,
		m.messagesPushed,
		m.reconnectAttempts,
		m.resetsRequested,
		m.upstreamConnected,
		m.downstreamClients,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) frame(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) decoded() {
	if m != nil {
		m.messagesDecoded.Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) pushed(scope string, n int) {
	if m != nil && n > 0 {
		m.messagesPushed.WithLabelValues(scope).Add(float64(n))
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) reset() {
	if m != nil {
		m.resetsRequested.Inc()
	}
}

func (m *Metrics) connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.upstreamConnected.Set(1)
	} else {
		m.upstreamConnected.Set(0)
	}
}

// ClientConnected and ClientDisconnected track downstream connections; scope is
// "all" or "ref".
func (m *Metrics) ClientConnected(scope string) {
	if m != nil {
		m.downstreamClients.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) ClientDisconnected(scope string) {
	if m != nil {
		m.downstreamClients.WithLabelValues(scope).Dec()
	}
}
