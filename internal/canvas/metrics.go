package canvas

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	ChainedTotal     prometheus.Counter
	RemovedTotal     prometheus.Counter
	NoticesTotal     *prometheus.CounterVec
	ActiveViewers    prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_canvas_submissions_total",
				Help: "Text and transcript submissions, by outcome",
			}, []string{"outcome"}),
			ChainedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "livecanvas_canvas_chained_tools_total",
				Help: "Tools added to the timeline by chain rules",
			}),
			RemovedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "livecanvas_canvas_removed_tools_total",
				Help: "Tools dismissed from the local view",
			}),
			NoticesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_canvas_notices_total",
				Help: "User-visible notices, by level",
			}, []string{"level"}),
			ActiveViewers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "livecanvas_canvas_active_viewers",
				Help: "Current view subscribers",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) recordSubmission(outcome string) {
	if m == nil || m.SubmissionsTotal == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordChained() {
	if m == nil || m.ChainedTotal == nil {
		return
	}
	m.ChainedTotal.Inc()
}

func (m *Metrics) recordRemoved() {
	if m == nil || m.RemovedTotal == nil {
		return
	}
	m.RemovedTotal.Inc()
}

func (m *Metrics) recordNotice(level NoticeLevel) {
	if m == nil || m.NoticesTotal == nil {
		return
	}
	m.NoticesTotal.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) viewerConnected() {
	if m == nil || m.ActiveViewers == nil {
		return
	}
	m.ActiveViewers.Inc()
}

func (m *Metrics) viewerDisconnected() {
	if m == nil || m.ActiveViewers == nil {
		return
	}
	m.ActiveViewers.Dec()
}
