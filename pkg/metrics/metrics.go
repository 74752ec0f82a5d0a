package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the scheduler's Prometheus series behind a private
// registry (never the global default, so multiple simulation instances in
// one process — e.g. in tests — don't collide on metric registration).
type Registry struct {
	reg *prometheus.Registry

	NrRunning     *prometheus.GaugeVec
	WatermarkIdle *prometheus.GaugeVec
	Migrations    prometheus.Counter
	ActiveBalance prometheus.Counter
	Reschedules   prometheus.Counter
	BoostEvents   *prometheus.CounterVec
	SchedLatency  prometheus.Histogram
}

// New builds and registers the scheduler's metric series.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		NrRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bmqsched",
			Name:      "nr_running",
			Help:      "Runnable task count per CPU, including the idle task.",
		}, []string{"cpu"}),
		WatermarkIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bmqsched",
			Name:      "idle",
			Help:      "1 if the CPU is currently running its idle task, else 0.",
		}, []string{"cpu"}),
		Migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "migrations_total",
			Help:      "Tasks moved by an idle-pull migration batch.",
		}),
		ActiveBalance: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "smt_active_balance_total",
			Help:      "SMT active-balance force-migrations triggered.",
		}),
		Reschedules: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "reschedule_ipi_total",
			Help:      "Reschedule IPIs sent.",
		}),
		BoostEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "boost_events_total",
			Help:      "Boost/deboost adjustments applied to non-RT tasks.",
		}, []string{"direction"}),
		SchedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bmqsched",
			Name:      "schedule_duration_seconds",
			Help:      "Wall-clock time spent inside Scheduler.Schedule.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
	}

	reg.MustRegister(
		r.NrRunning, r.WatermarkIdle, r.Migrations,
		r.ActiveBalance, r.Reschedules, r.BoostEvents, r.SchedLatency,
	)
	return r
}

// Handler returns the http.Handler that serves this registry's
// exposition, suitable for mounting at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
