package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// LedgerMetrics counts posting engine and AR operations by outcome.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors on registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_operations_total",
		Help: "Ledger operations (post, reverse, period_close, allocate, ...) by outcome.",
	}, []string{"operation", "outcome"})
	registerer.MustRegister(ops)
	return &LedgerMetrics{operations: ops}
}

// Observe records one operation. Failures are labelled with their error kind.
func (m *LedgerMetrics) Observe(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Outcome(err)).Inc()
}

// Outcome maps an operation error to a metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shared.ErrValidation):
		return "invalid"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrStateConflict):
		return "conflict"
	case errors.Is(err, shared.ErrIntegrity):
		return "integrity"
	}
	return "error"
}
