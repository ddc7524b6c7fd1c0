// Package metadata is the durable, SQLite-backed kv.Store holding the
// client's ledger: block records, summaries, the path map and archive
// settings, each in its own namespace.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/blocksync/internal/dbx"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func get(ctx context.Context, q dbx.DBTX, namespace, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", namespace, key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func put(ctx context.Context, q dbx.DBTX, namespace, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("failed to put %s[%s]: %w", namespace, key, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	return get(ctx, r.db, namespace, key)
}

func (r *SQLiteRepository) Put(ctx context.Context, namespace, key string, value []byte) error {
	return put(ctx, r.db, namespace, key, value)
}

func (r *SQLiteRepository) Delete(ctx context.Context, namespace, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", namespace, key, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", namespace, err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", namespace, err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", namespace, err)
	}
	return result, nil
}

// Update runs the read-modify-write inside one transaction.
func (r *SQLiteRepository) Update(ctx context.Context, namespace, key string, fn func(old []byte) ([]byte, error)) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		old, err := get(ctx, tx, namespace, key)
		if err != nil {
			return err
		}
		v, err := fn(old)
		if err != nil {
			return err
		}
		return put(ctx, tx, namespace, key, v)
	})
}

// Clear drops every key in namespace.
func (r *SQLiteRepository) Clear(ctx context.Context, namespace string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", namespace, err)
	}
	return nil
}
