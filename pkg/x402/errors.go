package x402

import "errors"

var (
	// ErrClaimMissing is returned when no payment claim header is present.
	ErrClaimMissing = errors.New("payment claim missing")

	// ErrClaimMalformed is returned when the payment claim header cannot be parsed.
	ErrClaimMalformed = errors.New("payment claim malformed")

	// ErrInvalidAmount is returned for malformed or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrChainUnavailable is returned when the settlement ledger cannot be
	// reached at all. Callers must surface this as a server error, not a 402.
	ErrChainUnavailable = errors.New("settlement ledger unavailable")

	// ErrTransactionNotFound is returned by ChainClient implementations when
	// the ledger has no record of the referenced transaction.
	ErrTransactionNotFound = errors.New("transaction not found")
)
