// Package services contains the server's business logic: opening archives
// for a Hello and storing or fetching sealed blocks for a session.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/server/models"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/repomanager"
)

var (
	ErrArchiveNotFound = errors.New("archive not found")
	ErrBadPass         = errors.New("bad archive pass")
)

// ArchiveService answers the Hello handshake.
type ArchiveService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

// NewArchiveService wires the service. db may be nil when rm is the
// in-memory manager.
func NewArchiveService(db *sql.DB, rm repomanager.RepositoryManager) *ArchiveService {
	return &ArchiveService{db: db, repomanager: rm}
}

// Open returns the archive id for a Hello. With create set and id 0 a new
// archive guarded by pass is created.
func (s *ArchiveService) Open(ctx context.Context, id, pass uint32, create bool) (*models.Archive, error) {
	repo := s.repomanager.Archives(s.db)

	if create && id == 0 {
		a, err := repo.Create(ctx, pass)
		if err != nil {
			return nil, fmt.Errorf("create archive: %w", err)
		}
		return a, nil
	}

	a, err := repo.GetByID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get archive: %w", err)
	}

	var want, got [4]byte
	binary.BigEndian.PutUint32(want[:], a.Pass)
	binary.BigEndian.PutUint32(got[:], pass)
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return nil, ErrBadPass
	}
	return a, nil
}
