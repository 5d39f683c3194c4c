package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()

	client := goredis.NewClient(&goredis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(setupTestRedis(t), Config{KeyPrefix: "waltune_test:"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func TestNew_NilClient(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestStore_PurchaseAndUse(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	account, err := store.Purchase(ctx, &credits.PurchaseRequest{
		Address:       "0xlistener",
		NumberOfPlays: 3,
		AmountPaid:    30_000_000,
		SettlementRef: "ref1",
	})
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if account.RemainingPlays != 3 || account.TotalPurchased != 3 {
		t.Errorf("got remaining=%d total=%d, want 3/3", account.RemainingPlays, account.TotalPurchased)
	}

	remaining, err := store.UseCredit(ctx, "0xlistener")
	if err != nil {
		t.Fatalf("UseCredit failed: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining = %d, want 2", remaining)
	}
}

func TestStore_DuplicatePurchase(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	req := &credits.PurchaseRequest{
		Address:       "0xlistener",
		NumberOfPlays: 5,
		AmountPaid:    50_000_000,
		SettlementRef: "ref_dup",
	}
	if _, err := store.Purchase(ctx, req); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if _, err := store.Purchase(ctx, req); !errors.Is(err, credits.ErrDuplicatePurchase) {
		t.Fatalf("expected ErrDuplicatePurchase, got %v", err)
	}

	account, err := store.GetOrCreate(ctx, "0xlistener")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if account.RemainingPlays != 5 {
		t.Errorf("replay double-credited: remaining = %d, want 5", account.RemainingPlays)
	}
}

func TestStore_ConcurrentUseCredit(t *testing.T) {
	store := setupTestStore(t)
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
	store := setupTestStore(t)
	ctx := context.Background()

	for _, ref := range []string{"ref1", "ref2"} {
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
	if len(purchases) != 2 {
		t.Fatalf("expected 2 records, got %d", len(purchases))
	}
	if purchases[0].SettlementRef != "ref2" {
		t.Errorf("expected newest first, got %s", purchases[0].SettlementRef)
	}
}
