// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting workflow activity.
type Metrics struct {
	stepDuration *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec
	stepRetries  *prometheus.CounterVec
	tokensUsed   *prometheus.CounterVec
	tasksActive  prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Collectors are created once so repeated
// service construction (tests, CLI in-process runs) cannot trigger duplicate
// registration panics.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance on the provided registerer.
// Pass a fresh registry in tests. Registration errors other than
// AlreadyRegistered panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vpsweb",
			Subsystem: "workflow",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of each workflow step execution.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step", "status"},
	)
	stepFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsweb",
			Subsystem: "workflow",
			Name:      "step_failures_total",
			Help:      "Step executions that failed after exhausting retries.",
		},
		[]string{"step", "kind"},
	)
	stepRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsweb",
			Subsystem: "workflow",
			Name:      "step_retries_total",
			Help:      "Retries scheduled for step executions.",
		},
		[]string{"step"},
	)
	tokensUsed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsweb",
			Subsystem: "workflow",
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by LLM calls, labelled by provider and model.",
		},
		[]string{"provider", "model"},
	)
	tasksActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vpsweb",
			Subsystem: "workflow",
			Name:      "tasks_active",
			Help:      "Translation tasks currently running.",
		},
	)

	collectors := []prometheus.Collector{stepDuration, stepFailures, stepRetries, tokensUsed, tasksActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case stepDuration:
					stepDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case stepFailures:
					stepFailures = already.ExistingCollector.(*prometheus.CounterVec)
				case stepRetries:
					stepRetries = already.ExistingCollector.(*prometheus.CounterVec)
				case tokensUsed:
					tokensUsed = already.ExistingCollector.(*prometheus.CounterVec)
				case tasksActive:
					tasksActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		stepDuration: stepDuration,
		stepFailures: stepFailures,
		stepRetries:  stepRetries,
		tokensUsed:   tokensUsed,
		tasksActive:  tasksActive,
	}
}

// ObserveStepDuration records the time spent in a step with its final status.
func (m *Metrics) ObserveStepDuration(step, status string, duration time.Duration) {
	if m == nil || m.stepDuration == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, status).Observe(duration.Seconds())
}

// IncStepFailure increments the failure counter for the given step and error kind.
func (m *Metrics) IncStepFailure(step, kind string) {
	if m == nil || m.stepFailures == nil {
		return
	}
	m.stepFailures.WithLabelValues(step, kind).Inc()
}

// IncStepRetry increments the retry counter for the given step.
func (m *Metrics) IncStepRetry(step string) {
	if m == nil || m.stepRetries == nil {
		return
	}
	m.stepRetries.WithLabelValues(step).Inc()
}

// AddTokens records token usage for a provider/model pair.
func (m *Metrics) AddTokens(provider, model string, tokens int) {
	if m == nil || m.tokensUsed == nil || tokens <= 0 {
		return
	}
	m.tokensUsed.WithLabelValues(provider, model).Add(float64(tokens))
}

// IncActiveTasks marks a task as running.
func (m *Metrics) IncActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Inc()
}

// DecActiveTasks marks a task as finished.
func (m *Metrics) DecActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Dec()
}
