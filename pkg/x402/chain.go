package x402

import "context"

// ExecutionStatus is the on-chain outcome of a settled transaction.
type ExecutionStatus string

const (
	// ExecutionSuccess means the transaction executed successfully.
	ExecutionSuccess ExecutionStatus = "success"
	// ExecutionFailure means the transaction was recorded but failed.
	ExecutionFailure ExecutionStatus = "failure"
)

// TransactionStatus is the resolved state of an on-chain transaction.
type TransactionStatus struct {
	Digest string
	Status ExecutionStatus
}

// ChainClient resolves settlement references against the external ledger.
//
// LookupTransaction returns ErrTransactionNotFound when the ledger has not
// (yet) indexed the digest; any other error means the ledger itself could not
// be reached and is treated as infrastructure failure by the verifier.
type ChainClient interface {
	LookupTransaction(ctx context.Context, digest string) (*TransactionStatus, error)
}
