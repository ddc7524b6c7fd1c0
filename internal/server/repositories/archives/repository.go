// Package archives persists the archive registry: ids, passes and the
// per-archive remote id counter.
package archives

import (
	"context"

	"github.com/dmitrijs2005/blocksync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, pass uint32) (*models.Archive, error)
	GetByID(ctx context.Context, id uint32) (*models.Archive, error)
	// NextRemoteID bumps the archive's counter and returns the new value.
	NextRemoteID(ctx context.Context, id uint32) (uint32, error)
}
