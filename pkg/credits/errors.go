package credits

import "errors"

var (
	// ErrInsufficientCredit is returned when an account has no remaining plays.
	ErrInsufficientCredit = errors.New("insufficient play credits")

	// ErrInvalidAmount is returned for non-positive plays or payment amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDuplicatePurchase is returned when a settlement reference has
	// already been credited.
	ErrDuplicatePurchase = errors.New("duplicate settlement reference")

	// ErrStorageUnavailable is returned when the ledger store is unreachable
	// or not initialized. Callers must surface it as a server error, never as
	// a payment failure.
	ErrStorageUnavailable = errors.New("credit storage unavailable")
)
