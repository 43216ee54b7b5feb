package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rooms           prometheus.Gauge
	Connections     prometheus.Gauge
	RelayedTotal    *prometheus.CounterVec
	DroppedTotal    prometheus.Counter
	ReconnectsTotal prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Rooms: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "livecanvas_relay_rooms",
				Help: "Rooms with at least one connection",
			}),
			Connections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "livecanvas_relay_connections",
				Help: "Open relay websocket connections",
			}),
			RelayedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_relay_frames_total",
				Help: "Frames fanned out to a room, by kind",
			}, []string{"kind"}),
			DroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "livecanvas_relay_dropped_total",
				Help: "Frames dropped as malformed or because a send buffer was full",
			}),
			ReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "livecanvas_relay_client_reconnects_total",
				Help: "Relay client reconnect attempts",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) roomOpened() {
	if m == nil || m.Rooms == nil {
		return
	}
	m.Rooms.Inc()
}

func (m *Metrics) roomClosed() {
	if m == nil || m.Rooms == nil {
		return
	}
	m.Rooms.Dec()
}

func (m *Metrics) connectionOpened() {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) frameRelayed(kind string) {
	if m == nil || m.RelayedTotal == nil {
		return
	}
	m.RelayedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) frameDropped() {
	if m == nil || m.DroppedTotal == nil {
		return
	}
	m.DroppedTotal.Inc()
}

func (m *Metrics) reconnect() {
	if m == nil || m.ReconnectsTotal == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}
