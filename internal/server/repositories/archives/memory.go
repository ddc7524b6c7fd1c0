package archives

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/server/models"
)

// MemoryRepository keeps the registry in process memory. The server falls
// back to it when no database is configured.
type MemoryRepository struct {
	mu       sync.Mutex
	lastID   uint32
	archives map[uint32]*models.Archive
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{archives: make(map[uint32]*models.Archive)}
}

func (r *MemoryRepository) Create(_ context.Context, pass uint32) (*models.Archive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	a := &models.Archive{ID: r.lastID, Pass: pass, CreatedAt: time.Now()}
	r.archives[a.ID] = a
	out := *a
	return &out, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uint32) (*models.Archive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.archives[id]
	if !ok {
		return nil, fmt.Errorf("archive %d: %w", id, common.ErrorNotFound)
	}
	out := *a
	return &out, nil
}

func (r *MemoryRepository) NextRemoteID(_ context.Context, id uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.archives[id]
	if !ok {
		return 0, fmt.Errorf("archive %d: %w", id, common.ErrorNotFound)
	}
	if a.LastRemoteID == ^uint32(0) {
		return 0, fmt.Errorf("archive %d: remote ids exhausted", id)
	}
	a.LastRemoteID++
	return a.LastRemoteID, nil
}
