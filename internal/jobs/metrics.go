// Package jobs provides metrics for poll cycles and background job operations.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricPollVerdictsTotal      = "watchtime_poll_verdicts_total"
	MetricSessionsOpenedTotal    = "watchtime_sessions_opened_total"
	MetricSessionsFinalizedTotal = "watchtime_sessions_finalized_total"
	MetricSamplesTotal           = "watchtime_samples_total"
	MetricSkippedWritesTotal     = "watchtime_skipped_writes_total"
	MetricBackgroundJobsTotal    = "background_jobs_total"
	MetricBackgroundJobsDuration = "background_jobs_duration_seconds"
)

// Job type labels.
const (
	JobTypePollCycle = "poll_cycle"
	JobTypeRollup    = "rollup"
	JobTypeBackfill  = "backfill"
)

// Status labels for job completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Sample result labels.
const (
	SampleStored   = "stored"
	SampleRejected = "rejected"
	SampleFailed   = "failed"
)

// Metrics contains the Prometheus collectors for the tracker and the job worker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	verdicts      *prometheus.CounterVec
	opened        *prometheus.CounterVec
	finalized     *prometheus.CounterVec
	samples       *prometheus.CounterVec
	skippedWrites *prometheus.CounterVec
	jobsTotal     *prometheus.CounterVec
	jobsDuration  *prometheus.HistogramVec
}

// NewMetrics creates all collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPollVerdictsTotal,
				Help: "Poll verdicts by platform and verdict (live, not_live, unknown)",
			},
			[]string{"platform", "verdict"},
		),
		opened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSessionsOpenedTotal,
				Help: "Stream sessions opened by platform",
			},
			[]string{"platform"},
		),
		finalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSessionsFinalizedTotal,
				Help: "Stream sessions finalized by platform",
			},
			[]string{"platform"},
		),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSamplesTotal,
				Help: "Viewer samples by platform and result",
			},
			[]string{"platform", "result"},
		),
		skippedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSkippedWritesTotal,
				Help: "Per-creator store writes skipped after an error",
			},
			[]string{"platform"},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Total number of background job executions by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricBackgroundJobsDuration,
				Help:    "Histogram of background job duration in seconds by job type",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0},
			},
			[]string{"job_type"},
		),
	}
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.verdicts,
		m.opened,
		m.finalized,
		m.samples,
		m.skippedWrites,
		m.jobsTotal,
		m.jobsDuration,
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncVerdict counts one poll verdict.
func (m *Metrics) IncVerdict(platform, verdict string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(platform, verdict).Inc()
}

func (m *Metrics) IncSessionsOpened(platform string) {
	if m == nil {
		return
	}
	m.opened.WithLabelValues(platform).Inc()
}

func (m *Metrics) IncSessionsFinalized(platform string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(platform).Inc()
}

// IncSamples counts one sample outcome (SampleStored, SampleRejected, SampleFailed).
func (m *Metrics) IncSamples(platform, result string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(platform, result).Inc()
}

func (m *Metrics) IncSkippedWrites(platform string) {
	if m == nil {
		return
	}
	m.skippedWrites.WithLabelValues(platform).Inc()
}

// IncJobsTotal increments the jobs total counter.
// status: StatusSuccess or StatusFailure
func (m *Metrics) IncJobsTotal(jobType, status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records a job duration sample in seconds.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}
