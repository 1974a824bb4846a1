package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppiankov/credible/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS vault_records (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DB is the subset of pgxpool.Pool the backend uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresBackend stores records in a single append-only table
type PostgresBackend struct {
	db    DB
	close func()
}

// NewPostgresBackend connects to dsn and creates the table if needed
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	b := NewPostgresBackendWith(pool)
	b.close = pool.Close
	if err := b.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackendWith wraps an existing connection
func NewPostgresBackendWith(db DB) *PostgresBackend {
	return &PostgresBackend{db: db, close: func() {}}
}

// Migrate creates the records table
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create vault schema: %w", err)
	}
	return nil
}

// Close releases the pool
func (b *PostgresBackend) Close() error {
	b.close()
	return nil
}

func (b *PostgresBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	tag, err := b.db.Exec(ctx,
		`INSERT INTO vault_records (key, data) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, data)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", key, model.ErrImmutable)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRow(ctx, `SELECT data FROM vault_records WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select record: %w", err)
	}
	return data, nil
}

func (b *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.Query(ctx,
		`SELECT key FROM vault_records WHERE starts_with(key, $1) ORDER BY key COLLATE "C"`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan record keys: %w", err)
	}
	return keys, nil
}
