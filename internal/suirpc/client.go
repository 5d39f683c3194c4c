// Package suirpc implements the settlement ledger lookup against a Sui
// full-node JSON-RPC endpoint.
package suirpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

// Default full-node endpoints.
const (
	TestnetEndpoint = "https://fullnode.testnet.sui.io:443"
	MainnetEndpoint = "https://fullnode.mainnet.sui.io:443"
	DevnetEndpoint  = "https://fullnode.devnet.sui.io:443"
)

const defaultTimeout = 10 * time.Second

// Config holds client configuration.
type Config struct {
	// Endpoint is the full-node JSON-RPC URL (required).
	Endpoint string

	// HTTPClient is the underlying HTTP client. If nil, one with a 10s
	// timeout is used.
	HTTPClient *http.Client
}

// Client talks sui_getTransactionBlock to a full node. It satisfies the
// chain client contract: an unindexed digest is reported as
// x402.ErrTransactionNotFound, transport and node failures as plain errors.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a Sui JSON-RPC client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("suirpc: endpoint is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		endpoint:   config.Endpoint,
		httpClient: httpClient,
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Error  *rpcError       `json:"error"`
	Result json.RawMessage `json:"result"`
}

type transactionBlock struct {
	Digest  string `json:"digest"`
	Effects struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
}

// LookupTransaction resolves a transaction digest to its execution status.
func (c *Client) LookupTransaction(ctx context.Context, digest string) (*x402.TransactionStatus, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sui_getTransactionBlock",
		Params: []interface{}{
			digest,
			map[string]bool{"showEffects": true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("suirpc: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("suirpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suirpc: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suirpc: node returned HTTP %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("suirpc: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		if isNotFound(rpcResp.Error) {
			return nil, x402.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("suirpc: node error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil, x402.ErrTransactionNotFound
	}

	var block transactionBlock
	if err := json.Unmarshal(rpcResp.Result, &block); err != nil {
		return nil, fmt.Errorf("suirpc: decode transaction block: %w", err)
	}

	status := x402.ExecutionFailure
	if block.Effects.Status.Status == "success" {
		status = x402.ExecutionSuccess
	}
	return &x402.TransactionStatus{
		Digest: block.Digest,
		Status: status,
	}, nil
}

// isNotFound recognizes the node's "not yet indexed" answers. Sui reports
// unknown digests with an invalid-params error whose message names the
// referenced transaction.
func isNotFound(e *rpcError) bool {
	if e.Code == -32602 {
		return true
	}
	message := strings.ToLower(e.Message)
	return strings.Contains(message, "could not find") || strings.Contains(message, "not found")
}
