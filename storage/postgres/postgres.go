// Package postgres provides a PostgreSQL implementation of the clickpay.Storage interface.
// Credits are applied in a single transaction guarded by the processed_payments primary key.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

const globalCounter = "global"

//go:embed migrations/*.sql
var migrations embed.FS

// Storage implements clickpay.Storage and clickpay.CreditApplier using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies the embedded schema migrations in New
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
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
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}
	if config.AutoMigrate {
		if err := s.Migrate(); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies the embedded schema migrations. It is a no-op when the schema is current.
func (s *Storage) Migrate() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	// Closing this handle leaves the pool open
	db := stdlib.OpenDBFromPool(s.pool)
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ApplyCredit implements clickpay.CreditApplier
func (s *Storage) ApplyCredit(ctx context.Context, credit *clickpay.Credit) (bool, error) {
	if err := credit.Validate(); err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	// A concurrent insert of the same id blocks here until the other transaction ends
	var paymentID string
	err = tx.QueryRow(ctx, `
		INSERT INTO processed_payments (payment_id, user_id, clicks, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING payment_id
	`, credit.PaymentID, credit.UserID, credit.Clicks).Scan(&paymentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record processed payment: %w", err)
	}

	if err := upsertBalance(ctx, tx, credit.UserID, credit.Username, credit.Clicks); err != nil {
		return false, err
	}
	if err := upsertGlobal(ctx, tx, credit.Clicks); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit credit: %w", err)
	}
	return true, nil
}

// TryMarkProcessed implements clickpay.Storage
func (s *Storage) TryMarkProcessed(ctx context.Context, paymentID string) (bool, error) {
	if paymentID == "" {
		return false, clickpay.ErrInvalidCredit
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_payments (payment_id, user_id, clicks, processed_at)
		VALUES ($1, '', 0, NOW())
		ON CONFLICT (payment_id) DO NOTHING
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementBalance implements clickpay.Storage
func (s *Storage) IncrementBalance(ctx context.Context, userID string, amount int64) error {
	if userID == "" {
		return clickpay.ErrInvalidCredit
	}
	if amount < 0 {
		return clickpay.ErrInvalidAmount
	}
	return upsertBalance(ctx, s.pool, userID, "", amount)
}

// IncrementGlobal implements clickpay.Storage
func (s *Storage) IncrementGlobal(ctx context.Context, amount int64) error {
	if amount < 0 {
		return clickpay.ErrInvalidAmount
	}
	return upsertGlobal(ctx, s.pool, amount)
}

// GetBalance implements clickpay.Storage
func (s *Storage) GetBalance(ctx context.Context, userID string) (int64, error) {
	var clicks int64
	err := s.pool.QueryRow(ctx,
		`SELECT clicks FROM player_balances WHERE user_id = $1`, userID).Scan(&clicks)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return clicks, nil
}

// GetGlobal implements clickpay.Storage
func (s *Storage) GetGlobal(ctx context.Context) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM ledger_counters WHERE name = $1`, globalCounter).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get global counter: %w", err)
	}
	return value, nil
}

// IsProcessed implements clickpay.Storage
func (s *Storage) IsProcessed(ctx context.Context, paymentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_payments WHERE payment_id = $1)`, paymentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed payment: %w", err)
	}
	return exists, nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func upsertBalance(ctx context.Context, db execer, userID, username string, amount int64) error {
	_, err := db.Exec(ctx, `
		INSERT INTO player_balances (user_id, username, clicks, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET
			clicks = player_balances.clicks + EXCLUDED.clicks,
			username = COALESCE(NULLIF(EXCLUDED.username, ''), player_balances.username),
			updated_at = NOW()
	`, userID, username, amount)
	if err != nil {
		return fmt.Errorf("failed to increment balance: %w", overflowError(err))
	}
	return nil
}

func upsertGlobal(ctx context.Context, db execer, amount int64) error {
	_, err := db.Exec(ctx, `
		INSERT INTO ledger_counters (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name)
		DO UPDATE SET value = ledger_counters.value + EXCLUDED.value, updated_at = NOW()
	`, globalCounter, amount)
	if err != nil {
		return fmt.Errorf("failed to increment global counter: %w", overflowError(err))
	}
	return nil
}

// overflowError maps numeric_value_out_of_range to clickpay.ErrCounterOverflow.
// Inside ApplyCredit the transaction is rolled back, so nothing is applied.
func overflowError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22003" {
		return fmt.Errorf("%w: %w", clickpay.ErrCounterOverflow, err)
	}
	return err
}
