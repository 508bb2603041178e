package tasks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const outcomeSuccess = "success"

// Metrics records fetch cycle telemetry. A nil *Metrics records nothing.
type Metrics struct {
	cycles   *prometheus.CounterVec
	items    prometheus.Counter
	duration prometheus.Histogram
	skipped  prometheus.Counter
	armed    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rss_harvest",
			Name:      "fetch_cycles_total",
			Help:      "Fetch cycles by outcome.",
		}, []string{"outcome"}),
		items: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rss_harvest",
			Name:      "items_ingested_total",
			Help:      "Feed items stored by successful fetch cycles.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rss_harvest",
			Name:      "fetch_cycle_duration_seconds",
			Help:      "Duration of fetch cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rss_harvest",
			Name:      "firings_skipped_total",
			Help:      "Timer firings dropped because the previous cycle of the task was still running.",
		}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rss_harvest",
			Name:      "armed_tasks",
			Help:      "Tasks currently armed in the scheduler.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.cycles, m.items, m.duration, m.skipped, m.armed)
	}

	return m
}

func (m *Metrics) observeCycle(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.duration.Observe(duration.Seconds())
}

func (m *Metrics) itemsStored(n int) {
	if m == nil {
		return
	}
	m.items.Add(float64(n))
}

func (m *Metrics) firingSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func (m *Metrics) setArmed(n int) {
	if m == nil {
		return
	}
	m.armed.Set(float64(n))
}
