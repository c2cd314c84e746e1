package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts balance mutations and settlement failures.
type LedgerMetrics struct {
	operations         *prometheus.CounterVec
	settlementFailures prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations by kind and outcome.",
	}, []string{"op", "outcome"})
	settlementFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_phase2_failures_total",
		Help: "Orders whose ledger debit failed after the order committed.",
	})
	reg.MustRegister(operations, settlementFailures)
	return &LedgerMetrics{
		operations:         operations,
		settlementFailures: settlementFailures,
	}
}

// IncOperation records one ledger operation outcome.
func (m *LedgerMetrics) IncOperation(op, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

// IncSettlementFailure records a failed second-phase debit.
func (m *LedgerMetrics) IncSettlementFailure() {
	if m == nil || m.settlementFailures == nil {
		return
	}
	m.settlementFailures.Inc()
}
