package toolsync

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	InsertsTotal      *prometheus.CounterVec
	DuplicatesTotal   *prometheus.CounterVec
	SendFailuresTotal *prometheus.CounterVec
	MalformedTotal    *prometheus.CounterVec
	CommandsTotal     *prometheus.CounterVec
	Tools             prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			InsertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_sync_inserts_total",
				Help: "Tools inserted into the merged collection, by source",
			}, []string{"source"}),
			DuplicatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_sync_duplicates_total",
				Help: "Tool deliveries dropped because the id was already present",
			}, []string{"source"}),
			SendFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_sync_send_failures_total",
				Help: "Outbound sends that left a tool not yet shared, by channel",
			}, []string{"channel"}),
			MalformedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_sync_malformed_total",
				Help: "Inbound frames dropped as malformed, by channel",
			}, []string{"channel"}),
			CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_sync_remote_commands_total",
				Help: "Remote commands dispatched, by type and outcome",
			}, []string{"type", "outcome"}),
			Tools: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "livecanvas_sync_tools",
				Help: "Tools in the merged collection",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) recordInsert(source Source, total int) {
	if m == nil || m.InsertsTotal == nil {
		return
	}
	m.InsertsTotal.WithLabelValues(string(source)).Inc()
	m.Tools.Set(float64(total))
}

func (m *Metrics) recordDuplicate(source Source) {
	if m == nil || m.DuplicatesTotal == nil {
		return
	}
	m.DuplicatesTotal.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) recordSendFailure(channel string) {
	if m == nil || m.SendFailuresTotal == nil {
		return
	}
	m.SendFailuresTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) recordMalformed(channel string) {
	if m == nil || m.MalformedTotal == nil {
		return
	}
	m.MalformedTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) recordCommand(kind, outcome string) {
	if m == nil || m.CommandsTotal == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(kind, outcome).Inc()
}
