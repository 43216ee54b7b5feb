package chain

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsTotal    *prometheus.CounterVec
	CoalescedTotal prometheus.Counter
	TriggersTotal  *prometheus.CounterVec
	FailuresTotal  *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_chain_events_total",
				Help: "Tool events seen by the chain engine, by whether a rule matched",
			}, []string{"matched"}),
			CoalescedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "livecanvas_chain_coalesced_total",
				Help: "Qualifying events that replaced a pending chain",
			}),
			TriggersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_chain_triggers_total",
				Help: "Chains fired, by rule",
			}, []string{"rule"}),
			FailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "livecanvas_chain_transform_failures_total",
				Help: "Chain transforms that failed, by rule",
			}, []string{"rule"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) recordEvent(matched bool) {
	if m == nil || m.EventsTotal == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.EventsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) recordCoalesced() {
	if m == nil || m.CoalescedTotal == nil {
		return
	}
	m.CoalescedTotal.Inc()
}

func (m *Metrics) recordTrigger(rule string) {
	if m == nil || m.TriggersTotal == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(rule).Inc()
}

func (m *Metrics) recordFailure(rule string) {
	if m == nil || m.FailuresTotal == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(rule).Inc()
}
