package forumchat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the chat core. A nil *Metrics is valid and records nothing.
type Metrics struct {
	state          prometheus.Gauge
	reconnects     prometheus.Counter
	exhausted      prometheus.Counter
	frames         *prometheus.CounterVec
	decodeErrors   prometheus.Counter
	listenerPanics prometheus.Counter
	sends          *prometheus.CounterVec
	storedMessages prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forumchat",
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 terminated.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forumchat",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts scheduled.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forumchat",
			Name:      "reconnect_exhausted_total",
			Help:      "Times the reconnect budget was exhausted.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forumchat",
			Name:      "inbound_frames_total",
			Help:      "Inbound envelopes by type.",
		}, []string{"type"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forumchat",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		listenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forumchat",
			Name:      "listener_panics_total",
			Help:      "Event listener callbacks that panicked.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forumchat",
			Name:      "outbound_sends_total",
			Help:      "Outbound send attempts by outcome.",
		}, []string{"result"}),
		storedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forumchat",
			Name:      "stored_messages",
			Help:      "Messages currently held in the message list.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.reconnects, m.exhausted, m.frames, m.decodeErrors,
			m.listenerPanics, m.sends, m.storedMessages)
	}
	return m
}

func (m *Metrics) setState(s ConnState) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) reconnectExhausted() {
	if m != nil {
		m.exhausted.Inc()
	}
}

func (m *Metrics) frame(t EnvelopeType) {
	if m != nil {
		m.frames.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) listenerPanic() {
	if m != nil {
		m.listenerPanics.Inc()
	}
}

func (m *Metrics) send(result string) {
	if m != nil {
		m.sends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) stored(n int) {
	if m != nil {
		m.storedMessages.Set(float64(n))
	}
}
