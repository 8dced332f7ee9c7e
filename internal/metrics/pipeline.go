package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for job metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDropped = "dropped"
)

// PipelineMetrics records analysis and image job outcomes.
type PipelineMetrics struct {
	duration *prometheus.HistogramVec
	jobs     *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on reg. A nil reg
// returns a recorder whose methods do nothing.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dreamforge",
		Name:      "job_duration_seconds",
		Help:      "Duration of pipeline job attempts in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
	}, []string{"pipeline", "outcome"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dreamforge",
		Name:      "jobs_total",
		Help:      "Pipeline job attempts by outcome.",
	}, []string{"pipeline", "outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dreamforge",
		Name:      "retries_total",
		Help:      "Scheduled retries by kind (auto, manual, rejected).",
	}, []string{"pipeline", "kind"})
	reg.MustRegister(duration, jobs, retries)
	return &PipelineMetrics{
		duration: duration,
		jobs:     jobs,
		retries:  retries,
	}
}

// ObserveAttempt records one finished attempt.
func (m *PipelineMetrics) ObserveAttempt(pipeline, outcome string, d time.Duration) {
	if m == nil || m.jobs == nil {
		return
	}
	pipeline = normalizeLabel(pipeline)
	outcome = normalizeLabel(outcome)
	m.jobs.WithLabelValues(pipeline, outcome).Inc()
	m.duration.WithLabelValues(pipeline, outcome).Observe(d.Seconds())
}

// IncRetry counts a retry of the given kind.
func (m *PipelineMetrics) IncRetry(pipeline, kind string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(pipeline), normalizeLabel(kind)).Inc()
}

// QueueStats is the read side of a job queue.
type QueueStats interface {
	Name() string
	Len() int
	Pending() int
	InFlight() int
}

// RegisterQueue exports depth gauges for q.
func RegisterQueue(reg prometheus.Registerer, q QueueStats) {
	if reg == nil || q == nil {
		return
	}
	labels := prometheus.Labels{"queue": normalizeLabel(q.Name())}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "dreamforge",
			Name:        "queue_buffered",
			Help:        "Tasks waiting for a worker.",
			ConstLabels: labels,
		}, func() float64 { return float64(q.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "dreamforge",
			Name:        "queue_delayed",
			Help:        "Tasks scheduled for later.",
			ConstLabels: labels,
		}, func() float64 { return float64(q.Pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "dreamforge",
			Name:        "queue_in_flight",
			Help:        "Tasks currently running.",
			ConstLabels: labels,
		}, func() float64 { return float64(q.InFlight()) }),
	)
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
