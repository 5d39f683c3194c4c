package x402

import "time"

// Metrics defines the interface for tracking payment-gate operations.
// All methods must be safe for concurrent use.
type Metrics interface {
	// RecordVerification records a verifier decision.
	// mode: "credits" or "direct"; outcome: "valid", "invalid", or "error".
	RecordVerification(mode, outcome string)

	// RecordVerifyDuration records how long a verification took, including
	// any chain-lookup retries.
	RecordVerifyDuration(duration time.Duration)

	// RecordGrant records a request allowed through the gate.
	// method: "credits" or "direct".
	RecordGrant(method string)

	// RecordPaymentRequired records a 402 response.
	// reason: e.g. "no_claim", "malformed_claim", "no_credits", "verification_failed".
	RecordPaymentRequired(reason string)

	// RecordChainLookup records a settlement-ledger lookup attempt.
	// outcome: "found", "not_found", or "error".
	RecordChainLookup(outcome string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordVerification(_, _ string)           {}
func (n *NoopMetrics) RecordVerifyDuration(_ time.Duration)     {}
func (n *NoopMetrics) RecordGrant(_ string)                     {}
func (n *NoopMetrics) RecordPaymentRequired(_ string)           {}
func (n *NoopMetrics) RecordChainLookup(_ string)               {}
