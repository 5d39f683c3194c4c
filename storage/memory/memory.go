// Package memory provides an in-memory implementation of the credits.Store
// interface. This implementation is primarily intended for testing and demos.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
)

// Store implements credits.Store using in-memory maps.
type Store struct {
	mu        sync.Mutex
	accounts  map[string]*credits.Account
	purchases map[string][]*credits.Purchase

	// settled tracks used settlement references for purchase idempotency.
	settled map[string]bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		accounts:  make(map[string]*credits.Account),
		purchases: make(map[string][]*credits.Purchase),
		settled:   make(map[string]bool),
	}
}

// GetOrCreate implements credits.Store.
func (s *Store) GetOrCreate(ctx context.Context, address string) (*credits.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := s.getOrCreateLocked(address)
	accountCopy := *account
	return &accountCopy, nil
}

func (s *Store) getOrCreateLocked(address string) *credits.Account {
	account, ok := s.accounts[address]
	if !ok {
		now := time.Now().UTC()
		account = &credits.Account{
			Address:   address,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.accounts[address] = account
	}
	return account
}

// Purchase implements credits.Store.
func (s *Store) Purchase(ctx context.Context, req *credits.PurchaseRequest) (*credits.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled[req.SettlementRef] {
		return nil, credits.ErrDuplicatePurchase
	}
	s.settled[req.SettlementRef] = true

	account := s.getOrCreateLocked(req.Address)
	account.RemainingPlays += req.NumberOfPlays
	account.TotalPurchased += req.NumberOfPlays
	account.UpdatedAt = time.Now().UTC()

	s.purchases[req.Address] = append(s.purchases[req.Address], &credits.Purchase{
		Address:       req.Address,
		NumberOfPlays: req.NumberOfPlays,
		AmountPaid:    req.AmountPaid,
		SettlementRef: req.SettlementRef,
		CreatedAt:     time.Now().UTC(),
	})

	accountCopy := *account
	return &accountCopy, nil
}

// UseCredit implements credits.Store.
func (s *Store) UseCredit(ctx context.Context, address string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[address]
	if !ok || account.RemainingPlays <= 0 {
		return 0, credits.ErrInsufficientCredit
	}

	account.RemainingPlays--
	account.UpdatedAt = time.Now().UTC()
	return account.RemainingPlays, nil
}

// ListPurchases implements credits.Store.
func (s *Store) ListPurchases(ctx context.Context, address string) ([]*credits.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.purchases[address]
	out := make([]*credits.Purchase, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		recordCopy := *records[i]
		out = append(out, &recordCopy)
	}
	return out, nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*credits.Account)
	s.purchases = make(map[string][]*credits.Purchase)
	s.settled = make(map[string]bool)
}
