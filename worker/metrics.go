package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors a Worker reports to. A nil *Metrics
// records nothing.
type Metrics struct {
	jobs     *prometheus.CounterVec
	polls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the worker collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqueue",
			Name:      "jobs_total",
			Help:      "Settled jobs by queue and outcome (succeeded, released, failed).",
		}, []string{"queue", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqueue",
			Name:      "polls_total",
			Help:      "Pop calls by queue and result (claimed, empty, error).",
		}, []string{"queue", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqueue",
			Name:      "job_duration_seconds",
			Help:      "Time spent in the job handler.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
	}

	for _, c := range []prometheus.Collector{m.jobs, m.polls, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) outcome(queue, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) poll(queue, result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(queue, result).Inc()
}

func (m *Metrics) observe(queue string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(queue).Observe(d.Seconds())
}
