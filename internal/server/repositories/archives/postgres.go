package archives

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/dbx"
	"github.com/dmitrijs2005/blocksync/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, pass uint32) (*models.Archive, error) {
	query := `INSERT INTO archives (pass) VALUES ($1) RETURNING id, last_remote_id, created_at`

	a := &models.Archive{Pass: pass}
	var id, last int64
	if err := r.db.QueryRowContext(ctx, query, int64(pass)).Scan(&id, &last, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.ID, a.LastRemoteID = uint32(id), uint32(last)
	return a, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uint32) (*models.Archive, error) {
	query := `SELECT id, pass, last_remote_id, created_at FROM archives WHERE id = $1`

	a := &models.Archive{}
	var aid, pass, last int64
	err := r.db.QueryRowContext(ctx, query, int64(id)).Scan(&aid, &pass, &last, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("archive %d: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.ID, a.Pass, a.LastRemoteID = uint32(aid), uint32(pass), uint32(last)
	return a, nil
}

func (r *PostgresRepository) NextRemoteID(ctx context.Context, id uint32) (uint32, error) {
	query :=
		`UPDATE archives SET last_remote_id = last_remote_id + 1
		 WHERE id = $1
		 RETURNING last_remote_id`

	var next int64
	err := r.db.QueryRowContext(ctx, query, int64(id)).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("archive %d: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	if next > int64(^uint32(0)) {
		return 0, fmt.Errorf("archive %d: remote ids exhausted", id)
	}
	return uint32(next), nil
}
