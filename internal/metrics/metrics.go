// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for the admission and queue engine.
type Metrics struct {
	AdmissionsTotal *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	JobsFinished    *prometheus.CounterVec
	QueueWaitTime   prometheus.Histogram
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AdmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "downloader_admissions_total",
			Help: "Admission decisions by result and deny reason.",
		}, []string{"result", "reason"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "downloader_queue_depth",
			Help: "Pending jobs per tier lane.",
		}, []string{"tier"}),

		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "downloader_jobs_finished_total",
			Help: "Jobs reaching a terminal state, by outcome.",
		}, []string{"outcome"}),

		QueueWaitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "downloader_queue_wait_seconds",
			Help:    "Time jobs spend queued before a worker picks them up.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// NewDefault registers on the default prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
