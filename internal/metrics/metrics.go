// Package metrics records job engine metrics with Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zacjmagee/genjobs/internal/generator"
	"github.com/zacjmagee/genjobs/internal/job"
)

const namespace = "genjobs"

// Compile-time check that Recorder implements job.Observer.
var _ job.Observer = (*Recorder)(nil)

// Recorder holds the engine's collectors. Metrics are registered on the
// recorder's own registry rather than the global default one.
type Recorder struct {
	registry *prometheus.Registry

	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobsActive   *prometheus.GaugeVec
	jobDuration  *prometheus.HistogramVec
	polls        *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Recorder with a fresh registry that also exposes Go runtime
// and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates a Recorder that registers its collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		jobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of generation jobs submitted to a provider.",
		}, []string{"kind"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of generation jobs that reached a terminal state.",
		}, []string{"kind", "state"}),
		jobsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of generation jobs currently running.",
		}, []string{"kind"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock time from job creation to its terminal state.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
		}, []string{"kind", "state"}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of provider status queries, partitioned by outcome.",
		}, []string{"provider", "outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the recorder's collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// JobStarted records a job leaving the Created state.
func (r *Recorder) JobStarted(kind generator.Kind) {
	r.jobsStarted.WithLabelValues(string(kind)).Inc()
	r.jobsActive.WithLabelValues(string(kind)).Inc()
}

// PollCompleted records the outcome of a status query.
func (r *Recorder) PollCompleted(provider string, outcome job.PollOutcome) {
	r.polls.WithLabelValues(provider, string(outcome)).Inc()
}

// JobFinished records a started job reaching a terminal state.
func (r *Recorder) JobFinished(kind generator.Kind, state job.State, elapsed time.Duration) {
	r.jobsFinished.WithLabelValues(string(kind), string(state)).Inc()
	r.jobsActive.WithLabelValues(string(kind)).Dec()
	r.jobDuration.WithLabelValues(string(kind), string(state)).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served HTTP request. route is the matched pattern,
// never the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
