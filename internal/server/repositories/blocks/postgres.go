package blocks

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

func (r *PostgresRepository) Add(ctx context.Context, b *models.StoredBlock) error {
	query := `INSERT INTO blocks (archive_id, remote_id, storage_key, size) VALUES ($1, $2, $3, $4)`

	res, err := r.db.ExecContext(ctx, query, int64(b.ArchiveID), int64(b.RemoteID), b.StorageKey, b.Size)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, archiveID, remoteID uint32) (*models.StoredBlock, error) {
	query := `SELECT storage_key, size, created_at FROM blocks WHERE archive_id = $1 AND remote_id = $2`

	b := &models.StoredBlock{ArchiveID: archiveID, RemoteID: remoteID}
	err := r.db.QueryRowContext(ctx, query, int64(archiveID), int64(remoteID)).Scan(&b.StorageKey, &b.Size, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %d/%d: %w", archiveID, remoteID, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) PutList(ctx context.Context, l *models.StoredBlockList) (string, error) {
	var previous sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT storage_key FROM block_lists WHERE archive_id = $1 AND file_id = $2`,
		int64(l.ArchiveID), int64(l.FileID)).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("db error: %w", err)
	}

	query := `
		INSERT INTO block_lists (archive_id, file_id, storage_key, size, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (archive_id, file_id)
		DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			size = EXCLUDED.size,
			updated_at = EXCLUDED.updated_at`
	res, err := r.db.ExecContext(ctx, query, int64(l.ArchiveID), int64(l.FileID), l.StorageKey, l.Size)
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return "", fmt.Errorf("unexpected rows affected: %d", n)
	}
	return previous.String, nil
}

func (r *PostgresRepository) GetList(ctx context.Context, archiveID, fileID uint32) (*models.StoredBlockList, error) {
	query := `SELECT storage_key, size, updated_at FROM block_lists WHERE archive_id = $1 AND file_id = $2`

	l := &models.StoredBlockList{ArchiveID: archiveID, FileID: fileID}
	err := r.db.QueryRowContext(ctx, query, int64(archiveID), int64(fileID)).Scan(&l.StorageKey, &l.Size, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block list %d/%d: %w", archiveID, fileID, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return l, nil
}
