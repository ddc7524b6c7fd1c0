package blocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/server/models"
)

type key struct {
	archiveID uint32
	id        uint32
}

// MemoryRepository is the in-process Repository used without a database.
type MemoryRepository struct {
	mu     sync.Mutex
	blocks map[key]models.StoredBlock
	lists  map[key]models.StoredBlockList
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		blocks: make(map[key]models.StoredBlock),
		lists:  make(map[key]models.StoredBlockList),
	}
}

func (r *MemoryRepository) Add(_ context.Context, b *models.StoredBlock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{b.ArchiveID, b.RemoteID}
	if _, ok := r.blocks[k]; ok {
		return fmt.Errorf("block %d/%d already stored", b.ArchiveID, b.RemoteID)
	}
	stored := *b
	stored.CreatedAt = time.Now()
	r.blocks[k] = stored
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, archiveID, remoteID uint32) (*models.StoredBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.blocks[key{archiveID, remoteID}]
	if !ok {
		return nil, fmt.Errorf("block %d/%d: %w", archiveID, remoteID, common.ErrorNotFound)
	}
	return &b, nil
}

func (r *MemoryRepository) PutList(_ context.Context, l *models.StoredBlockList) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{l.ArchiveID, l.FileID}
	previous := r.lists[k].StorageKey
	stored := *l
	stored.UpdatedAt = time.Now()
	r.lists[k] = stored
	return previous, nil
}

func (r *MemoryRepository) GetList(_ context.Context, archiveID, fileID uint32) (*models.StoredBlockList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.lists[key{archiveID, fileID}]
	if !ok {
		return nil, fmt.Errorf("block list %d/%d: %w", archiveID, fileID, common.ErrorNotFound)
	}
	return &l, nil
}
