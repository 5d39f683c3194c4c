// Package firestore provides a Firestore implementation of the credits.Store
// interface. Balance mutations run inside Firestore transactions, which
// serialize concurrent writers on the account document.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
)

// Store implements credits.Store using Google Cloud Firestore.
type Store struct {
	client              *firestore.Client
	accountsCollection  string
	purchasesCollection string
	settledCollection   string
}

// Config holds Firestore store configuration.
type Config struct {
	// AccountsCollection holds credit accounts. Default: "play_credits".
	AccountsCollection string

	// PurchasesCollection holds the purchase audit trail.
	// Default: "play_credit_purchases".
	PurchasesCollection string

	// SettledCollection holds used settlement references, keyed by reference.
	// Default: "play_credit_settlements".
	SettledCollection string
}

// New creates a new Firestore store.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.AccountsCollection == "" {
		config.AccountsCollection = "play_credits"
	}
	if config.PurchasesCollection == "" {
		config.PurchasesCollection = "play_credit_purchases"
	}
	if config.SettledCollection == "" {
		config.SettledCollection = "play_credit_settlements"
	}

	return &Store{
		client:              client,
		accountsCollection:  config.AccountsCollection,
		purchasesCollection: config.PurchasesCollection,
		settledCollection:   config.SettledCollection,
	}, nil
}

// GetOrCreate implements credits.Store.
func (s *Store) GetOrCreate(ctx context.Context, address string) (*credits.Account, error) {
	doc := s.client.Collection(s.accountsCollection).Doc(address)

	// Create-if-absent has to be transactional so concurrent first-touch
	// converges on one document.
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(doc)
		if status.Code(err) == codes.NotFound {
			now := time.Now().UTC()
			return tx.Set(doc, map[string]interface{}{
				"remainingPlays": 0,
				"totalPurchased": 0,
				"createdAt":      now,
				"updatedAt":      now,
			})
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}

	return s.getAccount(ctx, address)
}

func (s *Store) getAccount(ctx context.Context, address string) (*credits.Account, error) {
	snap, err := s.client.Collection(s.accountsCollection).Doc(address).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}
	return accountFromData(address, snap.Data()), nil
}

// Purchase implements credits.Store. The settlement-reference document doubles
// as the idempotency marker: creating it and crediting the account happen in
// the same transaction.
func (s *Store) Purchase(ctx context.Context, req *credits.PurchaseRequest) (*credits.Account, error) {
	accountDoc := s.client.Collection(s.accountsCollection).Doc(req.Address)
	settledDoc := s.client.Collection(s.settledCollection).Doc(req.SettlementRef)
	purchaseDoc := s.client.Collection(s.purchasesCollection).NewDoc()

	duplicate := false
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(settledDoc)
		if err == nil {
			duplicate = true
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		now := time.Now().UTC()
		snap, err := tx.Get(accountDoc)
		remaining, total := 0, 0
		createdAt := now
		if err == nil {
			account := accountFromData(req.Address, snap.Data())
			remaining = account.RemainingPlays
			total = account.TotalPurchased
			createdAt = account.CreatedAt
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if err := tx.Set(settledDoc, map[string]interface{}{
			"address":   req.Address,
			"createdAt": now,
		}); err != nil {
			return err
		}
		if err := tx.Set(purchaseDoc, map[string]interface{}{
			"address":       req.Address,
			"numberOfPlays": req.NumberOfPlays,
			"amountPaid":    req.AmountPaid,
			"settlementRef": req.SettlementRef,
			"createdAt":     now,
		}); err != nil {
			return err
		}
		return tx.Set(accountDoc, map[string]interface{}{
			"remainingPlays": remaining + req.NumberOfPlays,
			"totalPurchased": total + req.NumberOfPlays,
			"createdAt":      createdAt,
			"updatedAt":      now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}
	if duplicate {
		return nil, credits.ErrDuplicatePurchase
	}

	return s.getAccount(ctx, req.Address)
}

// UseCredit implements credits.Store.
func (s *Store) UseCredit(ctx context.Context, address string) (int, error) {
	doc := s.client.Collection(s.accountsCollection).Doc(address)

	remaining := 0
	insufficient := false
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if status.Code(err) == codes.NotFound {
			insufficient = true
			return nil
		}
		if err != nil {
			return err
		}

		account := accountFromData(address, snap.Data())
		if account.RemainingPlays <= 0 {
			insufficient = true
			return nil
		}

		remaining = account.RemainingPlays - 1
		return tx.Update(doc, []firestore.Update{
			{Path: "remainingPlays", Value: remaining},
			{Path: "updatedAt", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}
	if insufficient {
		return 0, credits.ErrInsufficientCredit
	}
	return remaining, nil
}

// ListPurchases implements credits.Store.
func (s *Store) ListPurchases(ctx context.Context, address string) ([]*credits.Purchase, error) {
	iter := s.client.Collection(s.purchasesCollection).
		Where("address", "==", address).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var purchases []*credits.Purchase
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
		}

		data := snap.Data()
		purchases = append(purchases, &credits.Purchase{
			Address:       address,
			NumberOfPlays: getInt(data, "numberOfPlays"),
			AmountPaid:    getInt64(data, "amountPaid"),
			SettlementRef: getString(data, "settlementRef"),
			CreatedAt:     getTime(data, "createdAt"),
		})
	}
	return purchases, nil
}

func accountFromData(address string, data map[string]interface{}) *credits.Account {
	return &credits.Account{
		Address:        address,
		RemainingPlays: getInt(data, "remainingPlays"),
		TotalPurchased: getInt(data, "totalPurchased"),
		CreatedAt:      getTime(data, "createdAt"),
		UpdatedAt:      getTime(data, "updatedAt"),
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
