package credits

import "time"

// Metrics defines the interface for tracking ledger operations.
type Metrics interface {
	// RecordPurchase records a completed purchase of numberOfPlays credits.
	// duplicate is true when the settlement reference had already been used.
	RecordPurchase(numberOfPlays int, duplicate bool)

	// RecordCreditUse records a credit consumption attempt.
	// outcome: "granted", "insufficient", or "error".
	RecordCreditUse(outcome string)

	// RecordStorageOp records the latency of a store operation.
	RecordStorageOp(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordPurchase(_ int, _ bool)                         {}
func (n *NoopMetrics) RecordCreditUse(_ string)                             {}
func (n *NoopMetrics) RecordStorageOp(_ string, _ time.Duration, _ error)   {}
