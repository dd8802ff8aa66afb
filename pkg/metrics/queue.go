package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initQueueMetrics(cfg Config) {
	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskqueue_depth",
			Help: "Current number of tasks waiting in the queue",
		},
		[]string{"queue"},
	)

	m.taskWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_wait_seconds",
			Help:    "Time tasks spend waiting before execution",
			Buckets: cfg.TaskWaitBuckets,
		},
		[]string{"queue"},
	)

	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: cfg.TaskDurationBuckets,
		},
		[]string{"queue"},
	)

	m.taskPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_task_panics_total",
			Help: "Total number of recovered task panics",
		},
		[]string{"queue"},
	)

	m.registry.MustRegister(m.queueDepth)
	m.registry.MustRegister(m.taskWait)
	m.registry.MustRegister(m.taskDuration)
	m.registry.MustRegister(m.taskPanics)
}

// IncQueueDepth increments the queue depth gauge.
func (m *Manager) IncQueueDepth(queueName string) {
	if !m.enabled.Load() {
		return
	}
	m.queueDepth.WithLabelValues(queueName).Inc()
}

// DecQueueDepth decrements the queue depth gauge.
func (m *Manager) DecQueueDepth(queueName string) {
	if !m.enabled.Load() {
		return
	}
	m.queueDepth.WithLabelValues(queueName).Dec()
}

// RecordTaskWait records how long a task waited before running.
func (m *Manager) RecordTaskWait(queueName string, wait time.Duration) {
	if !m.enabled.Load() {
		return
	}
	m.taskWait.WithLabelValues(queueName).Observe(wait.Seconds())
}

// RecordTaskRun records a task execution and its duration.
func (m *Manager) RecordTaskRun(queueName string, duration time.Duration) {
	if !m.enabled.Load() {
		return
	}
	m.taskDuration.WithLabelValues(queueName).Observe(duration.Seconds())
}

// RecordTaskPanic records a recovered task panic.
func (m *Manager) RecordTaskPanic(queueName string) {
	if !m.enabled.Load() {
		return
	}
	m.taskPanics.WithLabelValues(queueName).Inc()
}
