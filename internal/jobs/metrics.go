// Package jobmetrics instruments the background worker.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the status label of propdesk_jobs_total.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	// StatusDropped marks runs that returned asynq.SkipRetry. They are not
	// failures: the task is discarded and retrying would not help.
	StatusDropped = "dropped"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	published *prometheus.CounterVec
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return register(prometheus.DefaultRegisterer)
})

// NewMetrics registers the job collectors on registerer, or returns the
// process-wide set bound to the default registerer when registerer is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return defaultMetrics()
	}
	return register(registerer)
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. A nil receiver yields a tracker that
// records nothing.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := Outcome(err)
	if status == StatusFailure {
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Outcome maps a handler error to its status label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, asynq.SkipRetry):
		return StatusDropped
	default:
		return StatusFailure
	}
}

// AddPublished counts invalidations a job pushed, by scope ("user" or "all").
func (m *Metrics) AddPublished(job, scope string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(job, scope).Inc()
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propdesk_jobs_total",
			Help: "Job runs partitioned by job name and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propdesk_jobs_failures_total",
			Help: "Job runs that failed and will be retried.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "propdesk_job_duration_seconds",
			Help:    "Duration in seconds of background job executions.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"job"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propdesk_job_invalidations_published_total",
			Help: "Permission invalidations published by background jobs.",
		}, []string{"job", "scope"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.published)
	return m
}
