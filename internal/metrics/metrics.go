// Package metrics exposes Prometheus collectors for the agent's cycles,
// tasks and decisions.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "herald"

type Metrics struct {
	cycleIterations *prometheus.CounterVec
	cycleFailures   *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	tasks           *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	confidence      *prometheus.HistogramVec
	running         prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg, panicking on conflicts.
// Pass a fresh registry in tests.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cycleIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "iterations_total",
			Help:      "Cycle iterations started, by cycle.",
		}, []string{"cycle"}),
		cycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "failures_total",
			Help:      "Cycle iterations that returned an error, by cycle.",
		}, []string{"cycle"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Time spent in one cycle iteration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cycle"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "transitions_total",
			Help:      "Task status transitions, by task type and new status.",
		}, []string{"type", "status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decisions",
			Name:      "total",
			Help:      "Decisions evaluated, by action type and outcome.",
		}, []string{"action", "should_act"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decisions",
			Name:      "confidence",
			Help:      "Decision confidence, by action type.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"action"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "running",
			Help:      "1 while the agent loops are running.",
		}),
	}
	reg.MustRegister(m.cycleIterations, m.cycleFailures, m.cycleDuration, m.tasks, m.decisions, m.confidence, m.running)
	return m
}

func (m *Metrics) ObserveCycle(cycle string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.cycleIterations.WithLabelValues(cycle).Inc()
	m.cycleDuration.WithLabelValues(cycle).Observe(d.Seconds())
	if err != nil {
		m.cycleFailures.WithLabelValues(cycle).Inc()
	}
}

func (m *Metrics) ObserveTask(taskType, status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(taskType, status).Inc()
}

func (m *Metrics) ObserveDecision(action string, shouldAct bool, confidence float64) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action, strconv.FormatBool(shouldAct)).Inc()
	m.confidence.WithLabelValues(action).Observe(confidence)
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}
