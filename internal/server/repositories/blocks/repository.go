// Package blocks persists where each sealed block and block list lives in
// object storage.
package blocks

import (
	"context"

	"github.com/dmitrijs2005/blocksync/internal/server/models"
)

type Repository interface {
	Add(ctx context.Context, b *models.StoredBlock) error
	Get(ctx context.Context, archiveID, remoteID uint32) (*models.StoredBlock, error)
	// PutList stores l and returns the storage key of the list it
	// replaced, or "" if there was none.
	PutList(ctx context.Context, l *models.StoredBlockList) (string, error)
	GetList(ctx context.Context, archiveID, fileID uint32) (*models.StoredBlockList, error)
}
