package firestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
)

const (
	testProjectID = "waltune-test"
	emulatorHost  = "localhost:8080"
)

func setupTestStore(t *testing.T, testName string) (*Store, *firestore.Client, func()) {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}

	// The client connects lazily, so probe the emulator before running.
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	probe := client.Collection("waltune_probe").Doc("probe")
	if _, err := probe.Set(probeCtx, map[string]interface{}{"at": time.Now()}); err != nil {
		client.Close()
		t.Skipf("Firestore emulator not available: %v", err)
	}
	_, _ = probe.Delete(ctx)

	ts := time.Now().UnixNano()
	accounts := fmt.Sprintf("test_credits_%s_%d", testName, ts)
	purchases := fmt.Sprintf("test_purchases_%s_%d", testName, ts)
	settled := fmt.Sprintf("test_settled_%s_%d", testName, ts)

	store, err := New(client, Config{
		AccountsCollection:  accounts,
		PurchasesCollection: purchases,
		SettledCollection:   settled,
	})
	if err != nil {
		client.Close()
		t.Fatalf("Failed to create store: %v", err)
	}

	cleanup := func() {
		for _, coll := range []string{accounts, purchases, settled} {
			iter := client.Collection(coll).Documents(ctx)
			bw := client.BulkWriter(ctx)
			for {
				doc, err := iter.Next()
				if err != nil {
					break
				}
				_, _ = bw.Delete(doc.Ref)
			}
			bw.Flush()
		}
		client.Close()
	}

	return store, client, cleanup
}

func TestFirestore_GetOrCreate(t *testing.T) {
	store, _, cleanup := setupTestStore(t, "get_or_create")
	defer cleanup()

	ctx := context.Background()

	account, err := store.GetOrCreate(ctx, "0xalice")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if account.RemainingPlays != 0 || account.TotalPurchased != 0 {
		t.Errorf("Expected empty account, got %+v", account)
	}

	again, err := store.GetOrCreate(ctx, "0xalice")
	if err != nil {
		t.Fatalf("Second GetOrCreate failed: %v", err)
	}
	if !again.CreatedAt.Equal(account.CreatedAt) {
		t.Errorf("Expected stable CreatedAt, got %v then %v", account.CreatedAt, again.CreatedAt)
	}
}

func TestFirestore_PurchaseAndUse(t *testing.T) {
	store, _, cleanup := setupTestStore(t, "purchase_and_use")
	defer cleanup()

	ctx := context.Background()

	account, err := store.Purchase(ctx, &credits.PurchaseRequest{
		Address:       "0xalice",
		NumberOfPlays: 3,
		AmountPaid:    30_000_000,
		SettlementRef: "digest-1",
	})
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if account.RemainingPlays != 3 || account.TotalPurchased != 3 {
		t.Errorf("Expected 3/3, got %d/%d", account.RemainingPlays, account.TotalPurchased)
	}

	remaining, err := store.UseCredit(ctx, "0xalice")
	if err != nil {
		t.Fatalf("UseCredit failed: %v", err)
	}
	if remaining != 2 {
		t.Errorf("Expected 2 remaining, got %d", remaining)
	}
}

func TestFirestore_DuplicatePurchase(t *testing.T) {
	store, _, cleanup := setupTestStore(t, "duplicate_purchase")
	defer cleanup()

	ctx := context.Background()
	req := &credits.PurchaseRequest{
		Address:       "0xalice",
		NumberOfPlays: 5,
		AmountPaid:    50_000_000,
		SettlementRef: "digest-dup",
	}

	if _, err := store.Purchase(ctx, req); err != nil {
		t.Fatalf("First purchase failed: %v", err)
	}

	_, err := store.Purchase(ctx, req)
	if err != credits.ErrDuplicatePurchase {
		t.Errorf("Expected ErrDuplicatePurchase, got %v", err)
	}

	account, err := store.GetOrCreate(ctx, "0xalice")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if account.RemainingPlays != 5 {
		t.Errorf("Expected balance unchanged at 5, got %d", account.RemainingPlays)
	}
}

func TestFirestore_UseCredit_Insufficient(t *testing.T) {
	store, _, cleanup := setupTestStore(t, "use_insufficient")
	defer cleanup()

	ctx := context.Background()

	_, err := store.UseCredit(ctx, "0xnobody")
	if err != credits.ErrInsufficientCredit {
		t.Errorf("Expected ErrInsufficientCredit for unknown address, got %v", err)
	}

	if _, err := store.GetOrCreate(ctx, "0xbroke"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	_, err = store.UseCredit(ctx, "0xbroke")
	if err != credits.ErrInsufficientCredit {
		t.Errorf("Expected ErrInsufficientCredit at zero balance, got %v", err)
	}
}

func TestFirestore_ConcurrentUseCredit(t *testing.T) {
	store, _, cleanup := setupTestStore(t, "concurrent_use")
	defer cleanup()

	ctx := context.Background()

	if _, err := store.Purchase(ctx, &credits.PurchaseRequest{
		Address:       "0xalice",
		NumberOfPlays: 1,
		AmountPaid:    10_000_000,
		SettlementRef: "digest-conc",
	}); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	var wg sync.WaitGroup
	granted := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if remaining, err := store.UseCredit(ctx, "0xalice"); err == nil {
				granted <- remaining
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 successful consumption, got %d", count)
	}

	account, err := store.GetOrCreate(ctx, "0xalice")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if account.RemainingPlays != 0 {
		t.Errorf("Expected 0 remaining, got %d", account.RemainingPlays)
	}
}

func TestFirestore_ListPurchases(t *testing.T) {
	store, _, cleanup := setupTestStore(t, "list_purchases")
	defer cleanup()

	ctx := context.Background()

	for i, ref := range []string{"digest-a", "digest-b"} {
		if _, err := store.Purchase(ctx, &credits.PurchaseRequest{
			Address:       "0xalice",
			NumberOfPlays: i + 1,
			AmountPaid:    int64(i+1) * 10_000_000,
			SettlementRef: ref,
		}); err != nil {
			t.Fatalf("Purchase %s failed: %v", ref, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	purchases, err := store.ListPurchases(ctx, "0xalice")
	if err != nil {
		t.Fatalf("ListPurchases failed: %v", err)
	}
	if len(purchases) != 2 {
		t.Fatalf("Expected 2 purchases, got %d", len(purchases))
	}
	if purchases[0].SettlementRef != "digest-b" {
		t.Errorf("Expected newest first, got %s", purchases[0].SettlementRef)
	}

	other, err := store.ListPurchases(ctx, "0xbob")
	if err != nil {
		t.Fatalf("ListPurchases for other address failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no purchases for other address, got %d", len(other))
	}
}
