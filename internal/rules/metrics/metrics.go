package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the rules module. All methods are
// safe on a nil receiver.
type Metrics struct {
	// Workflow transitions by operation and result
	WorkflowOps *prometheus.CounterVec

	// Signing calls by result
	SigningCalls   *prometheus.CounterVec
	SigningLatency prometheus.Histogram

	// Committed rule set version
	CommittedVersion prometheus.Gauge

	// Authorization decisions by outcome
	Decisions       *prometheus.CounterVec
	EvaluateLatency prometheus.Histogram
}

// New registers the rules metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the rules metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WorkflowOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_rules_workflow_operations_total",
			Help: "Draft workflow operations by operation and result",
		}, []string{"operation", "result"}),

		SigningCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_rules_signing_calls_total",
			Help: "Rule set signing calls by result",
		}, []string{"result"}),

		SigningLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quorum_rules_signing_duration_seconds",
			Help:    "Duration of rule set signing calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		CommittedVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "quorum_rules_committed_version",
			Help: "Version number of the latest committed rule set",
		}),

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_rules_authorization_decisions_total",
			Help: "Authorization decisions by outcome",
		}, []string{"outcome"}), // outcome: "approved", "pending", "denied", "invalid"

		EvaluateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quorum_rules_evaluate_duration_seconds",
			Help:    "Duration of rule evaluation including rule set load",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// IncrementWorkflow records a workflow operation outcome.
func (m *Metrics) IncrementWorkflow(operation, result string) {
	if m != nil {
		m.WorkflowOps.WithLabelValues(operation, result).Inc()
	}
}

// ObserveSigning records a signing call.
func (m *Metrics) ObserveSigning(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.SigningCalls.WithLabelValues(result).Inc()
	m.SigningLatency.Observe(d.Seconds())
}

// SetCommittedVersion publishes the latest committed version.
func (m *Metrics) SetCommittedVersion(v int64) {
	if m != nil {
		m.CommittedVersion.Set(float64(v))
	}
}

// IncrementDecision records an authorization outcome.
func (m *Metrics) IncrementDecision(outcome string) {
	if m != nil {
		m.Decisions.WithLabelValues(outcome).Inc()
	}
}

// ObserveEvaluateLatency records the total evaluation duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
