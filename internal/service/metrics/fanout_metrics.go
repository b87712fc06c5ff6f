package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FanoutMetrics reports hub activity. It satisfies usecase.FanoutMetrics.
type FanoutMetrics struct {
	subscribers prometheus.Gauge
	broadcasts  prometheus.Counter
	dropped     prometheus.Counter
}

// NewFanoutMetrics registers the hub collectors on reg.
func NewFanoutMetrics(reg prometheus.Registerer) *FanoutMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &FanoutMetrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalfuse",
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Connected downstream subscribers",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalfuse",
			Subsystem: "fanout",
			Name:      "broadcasts_total",
			Help:      "Messages broadcast to the hub",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalfuse",
			Subsystem: "fanout",
			Name:      "dropped_total",
			Help:      "Per-subscriber deliveries skipped because the queue was full",
		}),
	}
	reg.MustRegister(m.subscribers, m.broadcasts, m.dropped)
	return m
}

func (m *FanoutMetrics) SetSubscribers(n int) { m.subscribers.Set(float64(n)) }
func (m *FanoutMetrics) IncBroadcast()        { m.broadcasts.Inc() }
func (m *FanoutMetrics) IncDropped()          { m.dropped.Inc() }
