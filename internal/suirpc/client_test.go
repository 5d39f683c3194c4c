package suirpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func rpcResult(effectsStatus string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"result":{"digest":"digest1","effects":{"status":{"status":%q}}}}`, effectsStatus)
}

func TestClient_RequiresEndpoint(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestClient_LookupTransaction_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rpcResult("success"))
	})

	status, err := client.LookupTransaction(context.Background(), "digest1")
	if err != nil {
		t.Fatalf("LookupTransaction failed: %v", err)
	}
	if status.Status != x402.ExecutionSuccess {
		t.Errorf("status = %s, want success", status.Status)
	}
	if status.Digest != "digest1" {
		t.Errorf("digest = %s, want digest1", status.Digest)
	}
}

func TestClient_LookupTransaction_Failure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rpcResult("failure"))
	})

	status, err := client.LookupTransaction(context.Background(), "digest1")
	if err != nil {
		t.Fatalf("LookupTransaction failed: %v", err)
	}
	if status.Status != x402.ExecutionFailure {
		t.Errorf("status = %s, want failure", status.Status)
	}
}

func TestClient_LookupTransaction_NotFound(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid params code", `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid params"}}`},
		{"not found message", `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"Could not find the referenced transaction [TransactionDigest(digest1)]"}}`},
		{"null result", `{"jsonrpc":"2.0","id":1,"result":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})

			_, err := client.LookupTransaction(context.Background(), "digest1")
			if !errors.Is(err, x402.ErrTransactionNotFound) {
				t.Fatalf("expected ErrTransactionNotFound, got %v", err)
			}
		})
	}
}

func TestClient_LookupTransaction_NodeErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.LookupTransaction(context.Background(), "digest1")
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if errors.Is(err, x402.ErrTransactionNotFound) {
		t.Error("a node failure must not look like an unindexed transaction")
	}
}
