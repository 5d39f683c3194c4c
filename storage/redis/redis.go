// Package redis provides a Redis implementation of the credits.Store
// interface. Balance mutations go through Lua scripts, so each operation is
// atomic against concurrent callers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
)

// Store implements credits.Store using Redis.
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "waltune:").
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{KeyPrefix: "waltune:"}
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "waltune:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts compiles the Lua scripts for atomic operations.
func (s *Store) loadScripts() {
	// Purchase: reject reused settlement references, then credit the account
	// and append the audit record in one atomic step.
	s.scripts["purchase"] = redis.NewScript(`
		local accountKey = KEYS[1]
		local purchasesKey = KEYS[2]
		local settledKey = KEYS[3]
		local plays = tonumber(ARGV[1])
		local record = ARGV[2]
		local now = ARGV[3]

		if redis.call('EXISTS', settledKey) == 1 then
			return {-1, -1}
		end
		redis.call('SET', settledKey, '1')

		redis.call('HSETNX', accountKey, 'created_at', now)
		local remaining = redis.call('HINCRBY', accountKey, 'remaining', plays)
		local total = redis.call('HINCRBY', accountKey, 'total', plays)
		redis.call('HSET', accountKey, 'updated_at', now)

		redis.call('RPUSH', purchasesKey, record)
		return {remaining, total}
	`)

	// UseCredit: conditional decrement, never below zero.
	s.scripts["use_credit"] = redis.NewScript(`
		local accountKey = KEYS[1]
		local now = ARGV[1]

		local remaining = tonumber(redis.call('HGET', accountKey, 'remaining'))
		if not remaining or remaining <= 0 then
			return -1
		end

		remaining = redis.call('HINCRBY', accountKey, 'remaining', -1)
		redis.call('HSET', accountKey, 'updated_at', now)
		return remaining
	`)
}

func (s *Store) accountKey(address string) string {
	return s.config.KeyPrefix + "account:" + address
}

func (s *Store) purchasesKey(address string) string {
	return s.config.KeyPrefix + "purchases:" + address
}

func (s *Store) settledKey(ref string) string {
	return s.config.KeyPrefix + "settled:" + ref
}

// GetOrCreate implements credits.Store.
func (s *Store) GetOrCreate(ctx context.Context, address string) (*credits.Account, error) {
	now := time.Now().UTC()
	created, err := s.client.HSetNX(ctx, s.accountKey(address), "created_at", now.Unix()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}
	if created {
		if err := s.client.HSet(ctx, s.accountKey(address), "updated_at", now.Unix()).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
		}
	}
	return s.getAccount(ctx, address)
}

func (s *Store) getAccount(ctx context.Context, address string) (*credits.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(address)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}

	account := &credits.Account{Address: address}
	if v, ok := fields["remaining"]; ok {
		fmt.Sscan(v, &account.RemainingPlays)
	}
	if v, ok := fields["total"]; ok {
		fmt.Sscan(v, &account.TotalPurchased)
	}
	if v, ok := fields["created_at"]; ok {
		var sec int64
		fmt.Sscan(v, &sec)
		account.CreatedAt = time.Unix(sec, 0).UTC()
	}
	if v, ok := fields["updated_at"]; ok {
		var sec int64
		fmt.Sscan(v, &sec)
		account.UpdatedAt = time.Unix(sec, 0).UTC()
	}
	return account, nil
}

// purchaseRecord is the JSON shape stored in the purchases list.
type purchaseRecord struct {
	Address       string `json:"address"`
	NumberOfPlays int    `json:"numberOfPlays"`
	AmountPaid    int64  `json:"amountPaid"`
	SettlementRef string `json:"settlementRef"`
	CreatedAt     int64  `json:"createdAt"`
}

// Purchase implements credits.Store.
func (s *Store) Purchase(ctx context.Context, req *credits.PurchaseRequest) (*credits.Account, error) {
	now := time.Now().UTC()
	record, err := json.Marshal(purchaseRecord{
		Address:       req.Address,
		NumberOfPlays: req.NumberOfPlays,
		AmountPaid:    req.AmountPaid,
		SettlementRef: req.SettlementRef,
		CreatedAt:     now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purchase record: %w", err)
	}

	keys := []string{
		s.accountKey(req.Address),
		s.purchasesKey(req.Address),
		s.settledKey(req.SettlementRef),
	}
	result, err := s.scripts["purchase"].Run(ctx, s.client, keys,
		req.NumberOfPlays, string(record), now.Unix()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}
	if len(result) == 2 && result[0] < 0 {
		return nil, credits.ErrDuplicatePurchase
	}

	return s.getAccount(ctx, req.Address)
}

// UseCredit implements credits.Store.
func (s *Store) UseCredit(ctx context.Context, address string) (int, error) {
	now := time.Now().UTC()
	remaining, err := s.scripts["use_credit"].Run(ctx, s.client,
		[]string{s.accountKey(address)}, now.Unix()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}
	if remaining < 0 {
		return 0, credits.ErrInsufficientCredit
	}
	return remaining, nil
}

// ListPurchases implements credits.Store.
func (s *Store) ListPurchases(ctx context.Context, address string) ([]*credits.Purchase, error) {
	raw, err := s.client.LRange(ctx, s.purchasesKey(address), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}

	purchases := make([]*credits.Purchase, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec purchaseRecord
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal purchase record: %w", err)
		}
		purchases = append(purchases, &credits.Purchase{
			Address:       rec.Address,
			NumberOfPlays: rec.NumberOfPlays,
			AmountPaid:    rec.AmountPaid,
			SettlementRef: rec.SettlementRef,
			CreatedAt:     time.Unix(rec.CreatedAt, 0).UTC(),
		})
	}
	return purchases, nil
}
