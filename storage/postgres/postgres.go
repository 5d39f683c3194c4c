// Package postgres provides a PostgreSQL implementation of the credits.Store
// interface. Balance mutations are single-statement conditional updates, so
// concurrent decrements for the same address serialize on the account row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
)

// Schema is the DDL for the credit ledger tables. Apply it once per database,
// e.g. via EnsureSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS play_credits (
	address         TEXT PRIMARY KEY,
	remaining_plays INTEGER NOT NULL DEFAULT 0 CHECK (remaining_plays >= 0),
	total_purchased INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS play_credit_purchases (
	id              BIGSERIAL PRIMARY KEY,
	address         TEXT NOT NULL,
	number_of_plays INTEGER NOT NULL,
	amount_mist     BIGINT NOT NULL,
	settlement_ref  TEXT NOT NULL UNIQUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_play_credit_purchases_address
	ON play_credit_purchases (address, created_at DESC);
`

// undefinedTableCode is the PostgreSQL error code for a missing relation.
const undefinedTableCode = "42P01"

// Store implements credits.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", credits.ErrStorageUnavailable, err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema applies the ledger DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetOrCreate implements credits.Store. Concurrent first-touch converges via
// ON CONFLICT DO NOTHING on the primary key.
func (s *Store) GetOrCreate(ctx context.Context, address string) (*credits.Account, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO play_credits (address) VALUES ($1)
			ON CONFLICT (address) DO NOTHING`,
		address); err != nil {
		return nil, s.storageError("insert account", err)
	}

	return s.getAccount(ctx, address)
}

func (s *Store) getAccount(ctx context.Context, address string) (*credits.Account, error) {
	var account credits.Account
	err := s.pool.QueryRow(ctx,
		`SELECT address, remaining_plays, total_purchased, created_at, updated_at
			FROM play_credits WHERE address = $1`,
		address).Scan(
		&account.Address,
		&account.RemainingPlays,
		&account.TotalPurchased,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, s.storageError("get account", err)
	}
	return &account, nil
}

// Purchase implements credits.Store. The unique constraint on settlement_ref
// makes replays detectable inside the transaction, so a reference is credited
// at most once.
func (s *Store) Purchase(ctx context.Context, req *credits.PurchaseRequest) (*credits.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, s.storageError("begin purchase", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO play_credit_purchases (address, number_of_plays, amount_mist, settlement_ref)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (settlement_ref) DO NOTHING`,
		req.Address, req.NumberOfPlays, req.AmountPaid, req.SettlementRef)
	if err != nil {
		return nil, s.storageError("record purchase", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, credits.ErrDuplicatePurchase
	}

	var account credits.Account
	err = tx.QueryRow(ctx,
		`INSERT INTO play_credits (address, remaining_plays, total_purchased)
			VALUES ($1, $2, $2)
			ON CONFLICT (address) DO UPDATE SET
				remaining_plays = play_credits.remaining_plays + EXCLUDED.remaining_plays,
				total_purchased = play_credits.total_purchased + EXCLUDED.total_purchased,
				updated_at = now()
			RETURNING address, remaining_plays, total_purchased, created_at, updated_at`,
		req.Address, req.NumberOfPlays).Scan(
		&account.Address,
		&account.RemainingPlays,
		&account.TotalPurchased,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, s.storageError("credit account", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, s.storageError("commit purchase", err)
	}
	return &account, nil
}

// UseCredit implements credits.Store. The conditional update is atomic: N
// concurrent calls against a balance of one grant exactly once.
func (s *Store) UseCredit(ctx context.Context, address string) (int, error) {
	var remaining int
	err := s.pool.QueryRow(ctx,
		`UPDATE play_credits
			SET remaining_plays = remaining_plays - 1, updated_at = now()
			WHERE address = $1 AND remaining_plays > 0
			RETURNING remaining_plays`,
		address).Scan(&remaining)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, credits.ErrInsufficientCredit
	}
	if err != nil {
		return 0, s.storageError("use credit", err)
	}
	return remaining, nil
}

// ListPurchases implements credits.Store.
func (s *Store) ListPurchases(ctx context.Context, address string) ([]*credits.Purchase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, number_of_plays, amount_mist, settlement_ref, created_at
			FROM play_credit_purchases
			WHERE address = $1
			ORDER BY created_at DESC`,
		address)
	if err != nil {
		return nil, s.storageError("list purchases", err)
	}
	defer rows.Close()

	var purchases []*credits.Purchase
	for rows.Next() {
		var p credits.Purchase
		if err := rows.Scan(&p.Address, &p.NumberOfPlays, &p.AmountPaid, &p.SettlementRef, &p.CreatedAt); err != nil {
			return nil, s.storageError("scan purchase", err)
		}
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageError("list purchases", err)
	}
	return purchases, nil
}

// storageError classifies driver errors. A missing relation means the schema
// was never applied; both that and connection failures are surfaced as
// ErrStorageUnavailable so callers answer with a server error, not a 402.
func (s *Store) storageError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode {
		return fmt.Errorf("%w: ledger tables not initialized, apply postgres.Schema (%s)", credits.ErrStorageUnavailable, operation)
	}
	return fmt.Errorf("%w: %s: %v", credits.ErrStorageUnavailable, operation, err)
}
