package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opentrusty/pulse/internal/scope"
)

// Querier is the statement surface shared by the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the connection pool behaviour the store relies on.
// *pgxpool.Pool satisfies it.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool Pool
}

// Config holds database configuration
type Config struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// New creates a new database connection
func New(ctx context.Context, cfg Config) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
		cfg.MaxIdleConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool Pool) *DB {
	return &DB{pool: pool}
}

// Close closes the database connection
func (db *DB) Close() {
	db.pool.Close()
}

// Ping verifies the pool can reach the server.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Begin checks out a connection and opens a transaction on it.
// Committing or rolling back the transaction returns the connection.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	return db.pool.Begin(ctx)
}

// Stat returns pool statistics when the pool is a *pgxpool.Pool.
func (db *DB) Stat() (*pgxpool.Stat, bool) {
	p, ok := db.pool.(*pgxpool.Pool)
	if !ok {
		return nil, false
	}
	return p.Stat(), true
}

// Conn returns the handle a data-access call must use for ctx: the
// identity-bound transaction of the current request scope when there is
// one, the pool otherwise.
//
// A scope that has already been finalized yields scope.ErrScopeReleased
// rather than the pool, so late work never runs without its identity.
func (db *DB) Conn(ctx context.Context) (Querier, error) {
	s, ok := scope.Current(ctx)
	if !ok {
		return db.pool, nil
	}
	tx, err := s.Tx()
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Migrate applies the embedded schema migrations in order. The scripts are
// idempotent, so running Migrate on an up-to-date database is harmless.
func (db *DB) Migrate(ctx context.Context) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if _, err := db.pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}
