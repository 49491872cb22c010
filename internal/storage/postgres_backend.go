package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/migrations"
	storagecommon "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage/common"
)

// PostgresBackend stores entries in the kv_store table. Versions are bumped
// in SQL so CheckAndSet is a single conditional UPDATE.
type PostgresBackend struct {
	dsn string
	db  *sql.DB
}

// NewPostgresBackend creates a PostgreSQL storage backend
func NewPostgresBackend(dsn string) *PostgresBackend {
	return &PostgresBackend{dsn: dsn}
}

func (p *PostgresBackend) Initialize(ctx context.Context) error {
	db, err := sql.Open("postgres", p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	ctx, cancel := storagecommon.Bound(ctx, storagecommon.OpConnect)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := migrations.PostgresUp(p.dsn); err != nil {
		_ = db.Close()
		return err
	}
	p.db = db
	return nil
}

func (p *PostgresBackend) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresBackend) Health(ctx context.Context) error {
	ctx, cancel := storagecommon.Bound(ctx, storagecommon.OpProbe)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (Entry, error) {
	e := Entry{Key: key}
	err := p.db.QueryRowContext(ctx,
		`SELECT value, version FROM kv_store WHERE key = $1`, key).Scan(&e.Value, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, &ErrNotFound{Key: key}
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

const postgresUpsert = `
INSERT INTO kv_store (key, value, version, updated_at) VALUES ($1, $2, 1, NOW())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, version = kv_store.version + 1, updated_at = NOW()`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (p *PostgresBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, postgresUpsert, key, value)
	return err
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	return err
}

func (p *PostgresBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, value, version FROM kv_store WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
		storagecommon.EscapeLike(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) CheckAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (int64, error) {
	var (
		version int64
		err     error
	)
	if expectedVersion == 0 {
		err = p.db.QueryRowContext(ctx, `
INSERT INTO kv_store (key, value, version, updated_at) VALUES ($1, $2, 1, NOW())
ON CONFLICT (key) DO NOTHING
RETURNING version`, key, value).Scan(&version)
	} else {
		err = p.db.QueryRowContext(ctx, `
UPDATE kv_store SET value = $3, version = version + 1, updated_at = NOW()
WHERE key = $1 AND version = $2
RETURNING version`, key, expectedVersion, value).Scan(&version)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (p *PostgresBackend) ApplyBatch(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := applyPostgresMutations(ctx, tx, mutations); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func applyPostgresMutations(ctx context.Context, ex execer, mutations []Mutation) error {
	for _, m := range mutations {
		var err error
		if m.Delete {
			_, err = ex.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, m.Key)
		} else {
			_, err = ex.ExecContext(ctx, postgresUpsert, m.Key, m.Value)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", m.Key, err)
		}
	}
	return nil
}
