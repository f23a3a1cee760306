// Package settlement provides metrics for settlement operations.
package settlement

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fullstackragab/wihngo-payments/internal/chain"
)

// Metrics names as constants for consistency.
const (
	MetricSettlementTransitions = "settlement_transitions_total"
	MetricVerifierOutcomes      = "settlement_verifier_outcomes_total"
	MetricReplaysDetected       = "settlement_replays_detected_total"
)

// Metrics contains Prometheus metrics for settlement operations.
// All operations are thread-safe. A nil *Metrics is a no-op.
type Metrics struct {
	transitions      *prometheus.CounterVec
	verifierOutcomes *prometheus.CounterVec
	replaysDetected  prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSettlementTransitions,
				Help: "Total number of intent status transitions by from and to status",
			},
			[]string{"from", "to"},
		),
		verifierOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricVerifierOutcomes,
				Help: "Total number of chain verification results by outcome",
			},
			[]string{"outcome"},
		),
		replaysDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricReplaysDetected,
				Help: "Total number of transaction hashes rejected as replays",
			},
		),
	}
}

// Register registers all metrics with the provided registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.transitions, m.verifierOutcomes, m.replaysDetected} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Transition records one status transition.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// VerifierOutcome records the outcome of one verification call.
func (m *Metrics) VerifierOutcome(result *chain.VerificationResult) {
	if m == nil || result == nil {
		return
	}
	outcome := "succeeded"
	switch {
	case !result.Found:
		outcome = "not_found"
	case !result.Succeeded:
		outcome = "failed"
	}
	m.verifierOutcomes.WithLabelValues(outcome).Inc()
}

// ReplayDetected records one rejected replay attempt.
func (m *Metrics) ReplayDetected() {
	if m == nil {
		return
	}
	m.replaysDetected.Inc()
}
