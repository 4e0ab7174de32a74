// Package metrics exposes Prometheus instrumentation for job tracking.
//
// A Recorder owns its registry so tests and multiple daemons in one process
// never collide on the global default registerer. Every method is safe on a
// nil receiver, which lets components run uninstrumented.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the flowtrack collectors.
type Recorder struct {
	registry *prometheus.Registry

	transitionsTotal     *prometheus.CounterVec
	persistFailuresTotal *prometheus.CounterVec
	coalescedTotal       prometheus.Counter
	jobsTotal            *prometheus.CounterVec
	activeJobs           *prometheus.GaugeVec
	stepDuration         *prometheus.HistogramVec
	notificationsTotal   *prometheus.CounterVec
}

// New creates a Recorder whose metric names start with namespace.
func New(namespace string) *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Workflow state transitions applied, by target state.",
		},
		[]string{"state"},
	)
	r.persistFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_persist_failures_total",
			Help:      "Status records that could not be written to the durable store, by error kind.",
		},
		[]string{"kind"},
	)
	r.coalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_coalesced_total",
			Help:      "Change notifications merged into a wake the subscriber had not consumed.",
		},
	)
	r.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state, by kind and state.",
		},
		[]string{"kind", "state"},
	)
	r.activeJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently running, by kind.",
		},
		[]string{"kind"},
	)
	r.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of guarded pipeline steps.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"step", "outcome"},
	)
	r.notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_notifications_total",
			Help:      "Push notifications attempted, by outcome.",
		},
		[]string{"outcome"},
	)

	r.registry.MustRegister(
		r.transitionsTotal,
		r.persistFailuresTotal,
		r.coalescedTotal,
		r.jobsTotal,
		r.activeJobs,
		r.stepDuration,
		r.notificationsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for tests and custom collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Transition(state string) {
	if r == nil {
		return
	}
	r.transitionsTotal.WithLabelValues(state).Inc()
}

func (r *Recorder) PersistFailure(kind string) {
	if r == nil {
		return
	}
	r.persistFailuresTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) NotificationCoalesced() {
	if r == nil {
		return
	}
	r.coalescedTotal.Inc()
}

// JobStarted increments the active gauge for kind.
func (r *Recorder) JobStarted(kind string) {
	if r == nil {
		return
	}
	r.activeJobs.WithLabelValues(kind).Inc()
}

// JobFinished decrements the active gauge and counts the terminal state.
func (r *Recorder) JobFinished(kind, state string) {
	if r == nil {
		return
	}
	r.activeJobs.WithLabelValues(kind).Dec()
	r.jobsTotal.WithLabelValues(kind, state).Inc()
}

func (r *Recorder) ObserveStep(step string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.stepDuration.WithLabelValues(step, outcome).Observe(elapsed.Seconds())
}

func (r *Recorder) NotificationSent(err error) {
	if r == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	r.notificationsTotal.WithLabelValues(outcome).Inc()
}
