// Package metrics exposes Prometheus collectors for the messaging core.
// Every method is safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections    prometheus.Gauge
	Superseded     prometheus.Counter
	MessagesStored prometheus.Counter
	Drained        prometheus.Counter
	Forwards       *prometheus.CounterVec
	Receipts       *prometheus.CounterVec
	DroppedFrames  *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dm_connections_active",
			Help: "Current number of streaming connections",
		}),
		Superseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "dm_connections_superseded_total",
			Help: "Connections closed because the same user connected again",
		}),
		MessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "dm_messages_stored_total",
			Help: "Messages accepted and persisted",
		}),
		Drained: factory.NewCounter(prometheus.CounterOpts{
			Name: "dm_messages_drained_total",
			Help: "Stored unread messages delivered on connect",
		}),
		Forwards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dm_forwards_total",
			Help: "Live forward attempts by outcome",
		}, []string{"result"}),
		Receipts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dm_read_receipts_total",
			Help: "Read receipts by outcome",
		}, []string{"outcome"}),
		DroppedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dm_frames_dropped_total",
			Help: "Inbound frames dropped as malformed",
		}, []string{"reason"}),
		StorageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dm_storage_errors_total",
			Help: "Storage operations that failed inside a connection loop",
		}, []string{"op"}),
	}
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) Supersede() {
	if m == nil {
		return
	}
	m.Superseded.Inc()
}

func (m *Metrics) Stored() {
	if m == nil {
		return
	}
	m.MessagesStored.Inc()
}

func (m *Metrics) Drain(n int) {
	if m == nil {
		return
	}
	m.Drained.Add(float64(n))
}

func (m *Metrics) Forward(result string) {
	if m == nil {
		return
	}
	m.Forwards.WithLabelValues(result).Inc()
}

func (m *Metrics) Receipt(outcome string) {
	if m == nil {
		return
	}
	m.Receipts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.DroppedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) StorageError(op string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(op).Inc()
}
