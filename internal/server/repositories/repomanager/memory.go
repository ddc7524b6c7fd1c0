package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/blocksync/internal/dbx"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/archives"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/blocks"
)

// MemoryRepositoryManager hands out the same in-process repositories
// whatever handle it is given. Registry state is lost on restart.
type MemoryRepositoryManager struct {
	archives *archives.MemoryRepository
	blocks   *blocks.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		archives: archives.NewMemoryRepository(),
		blocks:   blocks.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *MemoryRepositoryManager) Archives(dbx.DBTX) archives.Repository {
	return m.archives
}

func (m *MemoryRepositoryManager) Blocks(dbx.DBTX) blocks.Repository {
	return m.blocks
}
