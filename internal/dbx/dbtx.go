// Package dbx holds the database plumbing shared by the client state store
// and the server registry.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is what repositories query through. *sql.DB and *sql.Tx both
// satisfy it; in-memory repositories receive nil and ignore it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction on db, committing when fn returns nil
// and rolling back on error or panic (panics are rethrown).
//
// With a nil db, fn runs directly with a nil handle. This is how services
// drive the in-memory registry through the same code path.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    id, err := rm.Archives(tx).NextRemoteID(ctx, archiveID)
//	    ...
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	if db == nil {
		return fn(ctx, nil)
	}

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}
