// File: internal/storage/postgres.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// pgxPool is the subset of pgxpool.Pool the store uses, narrowed so tests
// can substitute a pgxmock pool.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the durable KeyValueStorage backend. Keys are already
// namespaced by the Scoped wrapper before they arrive here.
type Postgres struct {
	pool pgxPool
	log  *zap.Logger
}

const createValuesTable = `
CREATE TABLE IF NOT EXISTS gm_values (
	key        text PRIMARY KEY,
	value      jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// NewPostgres wraps an existing pool and ensures the values table exists.
func NewPostgres(ctx context.Context, pool pgxPool, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Postgres{pool: pool, log: logger.Named("storage")}
	if _, err := pool.Exec(ctx, createValuesTable); err != nil {
		return nil, fmt.Errorf("failed to ensure gm_values table: %w", err)
	}
	return p, nil
}

func (p *Postgres) GetValue(ctx context.Context, key string, def any) (any, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM gm_values WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read value for %q: %w", key, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, fmt.Errorf("stored value for %q is not valid JSON: %w", key, err)
	}
	return out, nil
}

func (p *Postgres) SetValue(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("value for %q is not JSON-serializable: %w", key, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO gm_values (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, raw)
	if err != nil {
		return fmt.Errorf("failed to store value for %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) DeleteValue(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM gm_values WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete value for %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) ListValues(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT key FROM gm_values ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
