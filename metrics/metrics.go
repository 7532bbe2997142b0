// Package metrics holds the Prometheus collectors for scans, probes and
// schedules. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"linkscan/models"
)

const namespace = "linkscan"

type Metrics struct {
	ScansStarted   prometheus.Counter
	ScansFinished  *prometheus.CounterVec
	ScansRunning   prometheus.Gauge
	Probes         *prometheus.CounterVec
	ProbeDuration  prometheus.Histogram
	SchedulesFired *prometheus.CounterVec
	ScansPurged    prometheus.Counter
}

// New registers every collector on reg, or on the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ScansStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_started_total",
			Help:      "Scans accepted by the crawl engine",
		}),
		ScansFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_finished_total",
			Help:      "Scans that reached a terminal status",
		}, []string{"status"}),
		ScansRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scans_running",
			Help:      "Scans currently in progress",
		}),
		Probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Link probes by outcome",
		}, []string{"status"}),
		ProbeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Time spent probing one link, redirects included",
			Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10), // 25ms to ~13s
		}),
		SchedulesFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_fired_total",
			Help:      "Schedules that triggered a scan",
		}, []string{"type"}),
		ScansPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_purged_total",
			Help:      "Scans removed by the retention worker",
		}),
	}
}

func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.ScansStarted.Inc()
	m.ScansRunning.Inc()
}

func (m *Metrics) ScanFinished(status models.ScanStatus) {
	if m == nil {
		return
	}
	m.ScansFinished.WithLabelValues(string(status)).Inc()
	m.ScansRunning.Dec()
}

// ObserveProbe satisfies prober.Observer.
func (m *Metrics) ObserveProbe(status models.LinkStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(string(status)).Inc()
	m.ProbeDuration.Observe(d.Seconds())
}

func (m *Metrics) ScheduleFired(t models.ScheduleType) {
	if m == nil {
		return
	}
	m.SchedulesFired.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) Purged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ScansPurged.Add(float64(n))
}
