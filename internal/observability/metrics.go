// Package observability exports stack counters to Prometheus.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/notnil/h9can/h9"
)

const namespace = "h9"

// Metrics implements h9.Metrics with Prometheus collectors.
type Metrics struct {
	received   prometheus.Counter
	dropped    prometheus.Counter
	sent       *prometheus.CounterVec
	rejected   prometheus.Counter
	dispatched *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

var _ h9.Metrics = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rx",
			Name:      "frames_total",
			Help:      "Frames buffered for the polling context.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rx",
			Name:      "dropped_total",
			Help:      "Frames dropped because the receive buffer was full.",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "frames_total",
			Help:      "Frames handed to the transport.",
		}, []string{"path"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "rejected_total",
			Help:      "Messages rejected because the transmit buffer was full.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Received messages by dispatch outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "errors_sent_total",
			Help:      "ERROR responses sent by code.",
		}, []string{"code"}),
	}
	for _, c := range []prometheus.Collector{m.received, m.dropped, m.sent, m.rejected, m.dispatched, m.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) FrameReceived() { m.received.Inc() }
func (m *Metrics) FrameDropped()  { m.dropped.Inc() }
func (m *Metrics) FrameRejected() { m.rejected.Inc() }

func (m *Metrics) FrameSent(queued bool) {
	path := "direct"
	if queued {
		path = "queued"
	}
	m.sent.WithLabelValues(path).Inc()
}

func (m *Metrics) Dispatched(o h9.Outcome) { m.dispatched.WithLabelValues(o.String()).Inc() }

func (m *Metrics) ErrorSent(code h9.ErrorCode) { m.errors.WithLabelValues(code.String()).Inc() }

// TrackStack exports the buffer fill levels and the node address of s.
func TrackStack(reg prometheus.Registerer, s *h9.Stack) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rx",
			Name:      "pending",
			Help:      "Frames waiting in the receive buffer.",
		}, func() float64 { rx, _ := s.Pending(); return float64(rx) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "pending",
			Help:      "Frames waiting in the transmit buffer.",
		}, func() float64 { _, tx := s.Pending(); return float64(tx) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_address",
			Help:      "Current node address; 0 when unconfigured.",
		}, func() float64 { return float64(s.Node().Address()) }),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
