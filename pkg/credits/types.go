// Package credits implements the play-credit ledger: durable, race-safe
// bookkeeping of pre-purchased playback rights per wallet address.
package credits

import (
	"context"
	"time"
)

// Account is a user's play-credit balance. Accounts are created lazily with a
// zero balance on first touch and are never deleted.
type Account struct {
	// Address is the opaque user identity (wallet address).
	Address string

	// RemainingPlays is decremented by exactly one per credit-based playback.
	// It never goes negative.
	RemainingPlays int

	// TotalPurchased is the monotonically non-decreasing sum of all completed
	// purchases.
	TotalPurchased int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Purchase is an immutable audit-trail entry, one per successful purchase.
// The balance is denormalized onto Account; purchases are never re-read to
// compute it.
type Purchase struct {
	Address       string
	NumberOfPlays int

	// AmountPaid is in MIST, the settlement currency's smallest unit.
	AmountPaid int64

	// SettlementRef is the on-chain transaction digest that paid for the
	// credits. Purchases are idempotent by this reference.
	SettlementRef string

	CreatedAt time.Time
}

// PurchaseRequest carries the parameters of a purchase into the store.
type PurchaseRequest struct {
	Address       string
	NumberOfPlays int
	AmountPaid    int64
	SettlementRef string
}

// Store defines the interface for credit persistence. Implementations must
// make UseCredit atomic against concurrent calls for the same address and
// Purchase idempotent by settlement reference.
type Store interface {
	// GetOrCreate returns the account for an address, creating it with a zero
	// balance if it does not exist. Concurrent first-touch for the same
	// address must converge on one account.
	GetOrCreate(ctx context.Context, address string) (*Account, error)

	// Purchase atomically adds plays to the balance and appends the audit
	// record. Returns ErrDuplicatePurchase if the settlement reference was
	// already used.
	Purchase(ctx context.Context, req *PurchaseRequest) (*Account, error)

	// UseCredit atomically decrements the balance by one and returns the new
	// balance. Returns ErrInsufficientCredit if the balance is zero.
	UseCredit(ctx context.Context, address string) (int, error)

	// ListPurchases returns the purchase audit trail for an address, newest
	// first.
	ListPurchases(ctx context.Context, address string) ([]*Purchase, error)
}
