package obsv

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of Prometheus collectors exposed on /metrics by both
// the coordinator and worker binaries (spec.md SPEC_FULL DOMAIN STACK:
// "prometheus/client_golang | internal/obsv | /metrics on both coordinator
// and workers"). A single struct keeps registration centralized so a
// binary's main only has to call NewMetrics(registry) once.
type Metrics struct {
	JobsRequested  prometheus.Counter
	JobsCompleted  *prometheus.CounterVec // labeled by terminal jobState
	WorkersOnline  prometheus.Gauge
	DecodeErrors   prometheus.Counter
	StatsPublished prometheus.Counter
	StatsDropped   prometheus.Counter
}

// NewMetrics builds and registers a Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loadfabric_jobs_requested_total",
			Help: "Total Job-Request messages sent by the coordinator.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadfabric_jobs_completed_total",
			Help: "Total jobs reaching a terminal state, labeled by that state.",
		}, []string{"job_state"}),
		WorkersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadfabric_workers_online",
			Help: "Currently connected worker count.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loadfabric_decode_errors_total",
			Help: "Total frame decode failures across all connections.",
		}),
		StatsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loadfabric_stat_intervals_published_total",
			Help: "Total interval samples delivered to real-time stat sinks.",
		}),
		StatsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loadfabric_stat_intervals_dropped_total",
			Help: "Total interval samples lost to a failing stat sink.",
		}),
	}
	reg.MustRegister(m.JobsRequested, m.JobsCompleted, m.WorkersOnline, m.DecodeErrors, m.StatsPublished, m.StatsDropped)
	return m
}
