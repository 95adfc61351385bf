// Package metrics defines the Prometheus collectors exported by the scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rastersched"

// Metric names, relative to the rastersched namespace.
const (
	MetricRoundsScheduled   = "rounds_scheduled_total"
	MetricRoundsRejected    = "rounds_rejected_total"
	MetricTasksCompleted    = "tasks_completed_total"
	MetricTasksFailed       = "tasks_failed_total"
	MetricDoubleCompletions = "double_completions_total"
	MetricSignals           = "signals_total"
	MetricDrainSeconds      = "drain_duration_seconds"
	MetricTasksInFlight     = "tasks_in_flight"
)

// Metrics groups the scheduler's collectors.
type Metrics struct {
	RoundsScheduled   prometheus.Counter
	RoundsRejected    prometheus.Counter
	TasksCompleted    *prometheus.CounterVec
	TasksFailed       *prometheus.CounterVec
	DoubleCompletions prometheus.Counter
	Signals           *prometheus.CounterVec
	DrainDuration     prometheus.Histogram
	TasksInFlight     prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to avoid the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoundsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRoundsScheduled,
			Help:      "Task queues accepted by ScheduleTasks.",
		}),
		RoundsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRoundsRejected,
			Help:      "Task queues rejected as malformed.",
		}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricTasksCompleted,
			Help:      "Tasks that passed all completion stages.",
		}, []string{"kind"}),
		TasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricTasksFailed,
			Help:      "Completed tasks whose result carried an error.",
		}, []string{"kind"}),
		DoubleCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricDoubleCompletions,
			Help:      "Completion reports ignored because the task had already completed.",
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricSignals,
			Help:      "Aggregate completion signals raised to the client.",
		}, []string{"signal"}),
		DrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricDrainSeconds,
			Help:      "Time spent in one completion drain.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		TasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricTasksInFlight,
			Help:      "Tasks handed to an executor and not yet completed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RoundsScheduled,
			m.RoundsRejected,
			m.TasksCompleted,
			m.TasksFailed,
			m.DoubleCompletions,
			m.Signals,
			m.DrainDuration,
			m.TasksInFlight,
		)
	}
	return m
}

// ObserveDrain records the duration of a drain that started at start.
func (m *Metrics) ObserveDrain(start time.Time) {
	m.DrainDuration.Observe(time.Since(start).Seconds())
}
