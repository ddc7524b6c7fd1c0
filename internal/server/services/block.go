package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/dbx"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/server/models"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/blocksync/internal/server/storage"
)

// BlockService stores sealed payloads and hands out remote ids. It never
// sees plaintext.
type BlockService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       storage.Store
	log         logging.Logger
}

func NewBlockService(db *sql.DB, rm repomanager.RepositoryManager, store storage.Store, log logging.Logger) *BlockService {
	return &BlockService{db: db, repomanager: rm, store: store, log: log.With("module", "block_service")}
}

// PutBlock stores a block payload and returns its new remote id.
func (s *BlockService) PutBlock(ctx context.Context, archiveID uint32, payload []byte) (uint32, error) {
	key := storage.NewStorageKey(archiveID)
	if err := s.store.Put(ctx, key, payload); err != nil {
		return 0, err
	}

	var remoteID uint32
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		id, err := s.repomanager.Archives(tx).NextRemoteID(ctx, archiveID)
		if err != nil {
			return err
		}
		remoteID = id
		return s.repomanager.Blocks(tx).Add(ctx, &models.StoredBlock{
			ArchiveID:  archiveID,
			RemoteID:   id,
			StorageKey: key,
			Size:       len(payload),
		})
	})
	if err != nil {
		s.discard(ctx, key)
		return 0, fmt.Errorf("register block: %w", err)
	}
	return remoteID, nil
}

// PutBlockList stores the sealed block list of fileID, replacing the
// previous one.
func (s *BlockService) PutBlockList(ctx context.Context, archiveID, fileID uint32, payload []byte) error {
	key := storage.NewStorageKey(archiveID)
	if err := s.store.Put(ctx, key, payload); err != nil {
		return err
	}

	var previous string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		previous, err = s.repomanager.Blocks(tx).PutList(ctx, &models.StoredBlockList{
			ArchiveID:  archiveID,
			FileID:     fileID,
			StorageKey: key,
			Size:       len(payload),
		})
		return err
	})
	if err != nil {
		s.discard(ctx, key)
		return fmt.Errorf("register block list: %w", err)
	}
	if previous != "" {
		s.discard(ctx, previous)
	}
	return nil
}

// GetBlock returns the payload stored under remoteID.
func (s *BlockService) GetBlock(ctx context.Context, archiveID, remoteID uint32) ([]byte, error) {
	b, err := s.repomanager.Blocks(s.db).Get(ctx, archiveID, remoteID)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, b.StorageKey)
}

// GetBlockList returns the sealed block list of fileID.
func (s *BlockService) GetBlockList(ctx context.Context, archiveID, fileID uint32) ([]byte, error) {
	l, err := s.repomanager.Blocks(s.db).GetList(ctx, archiveID, fileID)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, l.StorageKey)
}

func (s *BlockService) discard(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.log.Warn(ctx, "cannot delete object", "key", key, "error", err)
	}
}
