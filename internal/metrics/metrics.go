// Package metrics exposes Prometheus collectors for execwatch.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "execwatch"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reconcileDecisions *prometheus.CounterVec
	toolTransitions    *prometheus.CounterVec
	toolInvocations    *prometheus.HistogramVec
	resumeRequests     *prometheus.CounterVec
	snapshotLoads      *prometheus.CounterVec
	snapshotCacheHits  prometheus.Counter
	persistFailures    *prometheus.CounterVec
	executionActive    prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// Default returns metrics registered with the global Prometheus registry.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs Metrics on reg. Collectors that are already registered
// are reused; any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		reconcileDecisions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "decisions_total",
			Help:      "Reconciliation decisions by input source and outcome.",
		}, []string{"source", "decision"})),
		toolTransitions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "transitions_total",
			Help:      "Tool call state transitions.",
		}, []string{"from", "to"})),
		toolInvocations: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "tool_invocation_duration_seconds",
			Help:      "Duration of tool invocations against MCP servers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "outcome"})),
		resumeRequests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "resume_requests_total",
			Help:      "Workflow resume and denial notices sent to the orchestrator.",
		}, []string{"kind", "outcome"})),
		snapshotLoads: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "loads_total",
			Help:      "Snapshot loads from durable storage.",
		}, []string{"outcome"})),
		snapshotCacheHits: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "cache_hits_total",
			Help:      "Snapshot loads served from the terminal execution cache.",
		})),
		persistFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "failures_total",
			Help:      "Durable writes that failed after a local transition.",
		}, []string{"entity"})),
		executionActive: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "execution_active",
			Help:      "1 while the loaded execution is active.",
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveDecision counts a reconciliation decision.
func (m *Metrics) ObserveDecision(source, decision string) {
	if m == nil {
		return
	}
	m.reconcileDecisions.WithLabelValues(source, decision).Inc()
}

// SetExecutionActive records whether the loaded execution is active.
func (m *Metrics) SetExecutionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.executionActive.Set(1)
		return
	}
	m.executionActive.Set(0)
}

// ObserveToolTransition counts a tool call state transition.
func (m *Metrics) ObserveToolTransition(from, to string) {
	if m == nil {
		return
	}
	m.toolTransitions.WithLabelValues(from, to).Inc()
}

// ObserveToolInvocation records the duration and outcome of a tool invocation.
func (m *Metrics) ObserveToolInvocation(server, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(server, outcome).Observe(d.Seconds())
}

// ObserveResume counts a resume or denial notice.
func (m *Metrics) ObserveResume(kind, outcome string) {
	if m == nil {
		return
	}
	m.resumeRequests.WithLabelValues(kind, outcome).Inc()
}

// ObserveSnapshotLoad counts a snapshot load.
func (m *Metrics) ObserveSnapshotLoad(outcome string) {
	if m == nil {
		return
	}
	m.snapshotLoads.WithLabelValues(outcome).Inc()
}

// IncSnapshotCacheHit counts a snapshot served from cache.
func (m *Metrics) IncSnapshotCacheHit() {
	if m == nil {
		return
	}
	m.snapshotCacheHits.Inc()
}

// IncPersistFailure counts a failed durable write.
func (m *Metrics) IncPersistFailure(entity string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(entity).Inc()
}
