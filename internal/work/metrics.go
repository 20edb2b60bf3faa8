package work

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "draftsync_work"

// metrics holds the collectors of a manager. They are registered with the
// registerer of the manager so tests can use private registries.
type metrics struct {
	enqueued *prometheus.CounterVec
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  prometheus.Gauge
}

// newMetrics creates the work metrics and registers them with reg when
// it is not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		enqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "enqueued_total",
				Help:      "Total work items enqueued.",
			},
			[]string{"kind"},
		),
		started: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "started_total",
				Help:      "Total work item runs started.",
			},
			[]string{"kind"},
		),
		finished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "finished_total",
				Help:      "Total work items reaching a terminal state.",
			},
			[]string{"kind", "state"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of work item runs.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "outcome"},
		),
		running: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "running",
				Help:      "Work items currently on an executor.",
			},
		),
	}
}
