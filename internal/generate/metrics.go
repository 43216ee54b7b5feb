package generate

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ClientRequests *prometheus.CounterVec
	ClientLatency  prometheus.Histogram
	HandlerTotal   *prometheus.CounterVec
	DroppedTools   prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ClientRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_generate_client_requests_total",
				Help: "Generation requests made by participants, by outcome",
			}, []string{"outcome"}),
			ClientLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "livecanvas_generate_client_seconds",
				Help:    "Generation request latency seen by participants",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}),
			HandlerTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_generate_handler_requests_total",
				Help: "generate-tools requests served, by result",
			}, []string{"result"}),
			DroppedTools: promauto.NewCounter(prometheus.CounterOpts{
				Name: "livecanvas_generate_dropped_tools_total",
				Help: "Tools dropped from completions for failing validation",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) observeClient(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if m.ClientRequests != nil {
		m.ClientRequests.WithLabelValues(outcome).Inc()
	}
	if m.ClientLatency != nil {
		m.ClientLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) recordHandled(result string) {
	if m == nil || m.HandlerTotal == nil {
		return
	}
	m.HandlerTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordDropped() {
	if m == nil || m.DroppedTools == nil {
		return
	}
	m.DroppedTools.Inc()
}
