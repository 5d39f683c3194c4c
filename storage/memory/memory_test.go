package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
)

func TestStore_GetOrCreate(t *testing.T) {
	store := New()
	ctx := context.Background()

	account, err := store.GetOrCreate(ctx, "0xlistener")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if account.Address != "0xlistener" {
		t.Errorf("Address = %s, want 0xlistener", account.Address)
	}
	if account.RemainingPlays != 0 {
		t.Errorf("RemainingPlays = %d, want 0", account.RemainingPlays)
	}

	// Returned account is a copy; mutating it must not affect the store.
	account.RemainingPlays = 99
	again, err := store.GetOrCreate(ctx, "0xlistener")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if again.RemainingPlays != 0 {
		t.Error("store leaked a mutable reference to its account")
	}
}

func TestStore_Purchase(t *testing.T) {
	store := New()
	ctx := context.Background()

	account, err := store.Purchase(ctx, &credits.PurchaseRequest{
		Address:       "0xlistener",
		NumberOfPlays: 5,
		AmountPaid:    50_000_000,
		SettlementRef: "ref1",
	})
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if account.RemainingPlays != 5 || account.TotalPurchased != 5 {
		t.Errorf("got remaining=%d total=%d, want 5/5", account.RemainingPlays, account.TotalPurchased)
	}

	_, err = store.Purchase(ctx, &credits.PurchaseRequest{
		Address:       "0xlistener",
		NumberOfPlays: 5,
		AmountPaid:    50_000_000,
		SettlementRef: "ref1",
	})
	if !errors.Is(err, credits.ErrDuplicatePurchase) {
		t.Fatalf("expected ErrDuplicatePurchase, got %v", err)
	}
}

func TestStore_UseCredit(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.UseCredit(ctx, "0xunknown"); !errors.Is(err, credits.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit for unknown account, got %v", err)
	}

	if _, err := store.Purchase(ctx, &credits.PurchaseRequest{
		Address:       "0xlistener",
		NumberOfPlays: 2,
		AmountPaid:    20_000_000,
		SettlementRef: "ref1",
	}); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	remaining, err := store.UseCredit(ctx, "0xlistener")
	if err != nil {
		t.Fatalf("UseCredit failed: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}

	if _, err := store.UseCredit(ctx, "0xlistener"); err != nil {
		t.Fatalf("UseCredit failed: %v", err)
	}
	if _, err := store.UseCredit(ctx, "0xlistener"); !errors.Is(err, credits.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit at zero balance, got %v", err)
	}
}

func TestStore_ConcurrentUseCredit(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Purchase(ctx, &credits.PurchaseRequest{
		Address:       "0xlistener",
		NumberOfPlays: 1,
		AmountPaid:    10_000_000,
		SettlementRef: "ref1",
	}); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.UseCredit(ctx, "0xlistener"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("granted = %d, want exactly 1", granted)
	}
}

func TestStore_ListPurchases(t *testing.T) {
	store := New()
	ctx := context.Background()

	refs := []string{"ref1", "ref2", "ref3"}
	for _, ref := range refs {
		if _, err := store.Purchase(ctx, &credits.PurchaseRequest{
			Address:       "0xlistener",
			NumberOfPlays: 1,
			AmountPaid:    10_000_000,
			SettlementRef: ref,
		}); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}
	}

	purchases, err := store.ListPurchases(ctx, "0xlistener")
	if err != nil {
		t.Fatalf("ListPurchases failed: %v", err)
	}
	if len(purchases) != 3 {
		t.Fatalf("expected 3 records, got %d", len(purchases))
	}
	if purchases[0].SettlementRef != "ref3" {
		t.Errorf("expected newest first, got %s", purchases[0].SettlementRef)
	}
}

func TestStore_Clear(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Purchase(ctx, &credits.PurchaseRequest{
		Address:       "0xlistener",
		NumberOfPlays: 1,
		AmountPaid:    10_000_000,
		SettlementRef: "ref1",
	}); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	store.Clear()

	account, err := store.GetOrCreate(ctx, "0xlistener")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if account.RemainingPlays != 0 {
		t.Errorf("Clear left a balance of %d", account.RemainingPlays)
	}
}
