package credits

import (
	"context"
	"errors"
	"time"
)

// Config holds service configuration.
type Config struct {
	// Logger is used for structured logging (default NoopLogger).
	Logger Logger

	// Metrics tracks ledger operations (default NoopMetrics).
	Metrics Metrics
}

// Service wraps a Store with validation, logging, and metrics. It is the only
// component allowed to mutate credit accounts.
type Service struct {
	store  Store
	config Config
}

// NewService creates a credit service with defaults applied.
func NewService(store Store, config Config) (*Service, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Service{store: store, config: config}, nil
}

// GetOrCreate returns the account for an address, creating it lazily.
func (s *Service) GetOrCreate(ctx context.Context, address string) (*Account, error) {
	start := time.Now()
	account, err := s.store.GetOrCreate(ctx, address)
	s.config.Metrics.RecordStorageOp("get_or_create", time.Since(start), err)
	if err != nil {
		s.config.Logger.Error("failed to get or create account",
			Field{Key: "address", Value: address})
		return nil, err
	}
	return account, nil
}

// Purchase adds plays to an account's balance and records the purchase.
// Resubmitting a settlement reference that was already credited returns the
// current account unchanged, so client retries after a timed-out response
// never double-credit.
func (s *Service) Purchase(ctx context.Context, address string, numberOfPlays int, amountPaid int64, settlementRef string) (*Account, error) {
	if numberOfPlays <= 0 || amountPaid <= 0 {
		return nil, ErrInvalidAmount
	}
	if address == "" || settlementRef == "" {
		return nil, ErrInvalidAmount
	}

	start := time.Now()
	account, err := s.store.Purchase(ctx, &PurchaseRequest{
		Address:       address,
		NumberOfPlays: numberOfPlays,
		AmountPaid:    amountPaid,
		SettlementRef: settlementRef,
	})
	s.config.Metrics.RecordStorageOp("purchase", time.Since(start), err)

	if errors.Is(err, ErrDuplicatePurchase) {
		s.config.Logger.Warn("settlement reference already credited",
			Field{Key: "address", Value: address},
			Field{Key: "settlement_ref", Value: settlementRef})
		s.config.Metrics.RecordPurchase(numberOfPlays, true)
		return s.store.GetOrCreate(ctx, address)
	}
	if err != nil {
		s.config.Logger.Error("purchase failed",
			Field{Key: "address", Value: address},
			Field{Key: "operation", Value: "purchase"})
		return nil, err
	}

	s.config.Metrics.RecordPurchase(numberOfPlays, false)
	s.config.Logger.Info("credits purchased",
		Field{Key: "address", Value: address},
		Field{Key: "plays", Value: numberOfPlays},
		Field{Key: "remaining", Value: account.RemainingPlays})
	return account, nil
}

// HasCredit reports whether the account has at least one remaining play.
func (s *Service) HasCredit(ctx context.Context, address string) (bool, error) {
	account, err := s.GetOrCreate(ctx, address)
	if err != nil {
		return false, err
	}
	return account.RemainingPlays > 0, nil
}

// UseCredit consumes exactly one play and returns the new balance.
func (s *Service) UseCredit(ctx context.Context, address string) (int, error) {
	start := time.Now()
	remaining, err := s.store.UseCredit(ctx, address)
	s.config.Metrics.RecordStorageOp("use_credit", time.Since(start), err)

	switch {
	case errors.Is(err, ErrInsufficientCredit):
		s.config.Metrics.RecordCreditUse("insufficient")
		return 0, err
	case err != nil:
		s.config.Metrics.RecordCreditUse("error")
		s.config.Logger.Error("failed to use credit",
			Field{Key: "address", Value: address},
			Field{Key: "operation", Value: "use_credit"})
		return 0, err
	}

	s.config.Metrics.RecordCreditUse("granted")
	s.config.Logger.Debug("credit consumed",
		Field{Key: "address", Value: address},
		Field{Key: "remaining", Value: remaining})
	return remaining, nil
}

// ListPurchases returns the purchase audit trail for an address.
func (s *Service) ListPurchases(ctx context.Context, address string) ([]*Purchase, error) {
	start := time.Now()
	purchases, err := s.store.ListPurchases(ctx, address)
	s.config.Metrics.RecordStorageOp("list_purchases", time.Since(start), err)
	return purchases, err
}
