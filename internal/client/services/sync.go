package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/blocksync/internal/client/client"
	"github.com/dmitrijs2005/blocksync/internal/client/config"
	"github.com/dmitrijs2005/blocksync/internal/client/syncer"
	"github.com/dmitrijs2005/blocksync/internal/covering"
	"github.com/dmitrijs2005/blocksync/internal/cryptox"
	"github.com/dmitrijs2005/blocksync/internal/ledger"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/models"
)

// Dialer opens a connection to the block store.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// SyncService runs one session per Archive or Extract call.
type SyncService struct {
	ledger *ledger.Ledger
	engine *covering.Engine
	cfg    *config.Config
	dial   Dialer
	log    logging.Logger
}

func NewSyncService(l *ledger.Ledger, engine *covering.Engine, cfg *config.Config, dial Dialer, log logging.Logger) *SyncService {
	return &SyncService{ledger: l, engine: engine, cfg: cfg, dial: dial, log: log}
}

// ArchiveID returns the configured archive id, falling back to the one
// remembered from an earlier run. Zero means none.
func (s *SyncService) ArchiveID(ctx context.Context) (uint32, error) {
	if s.cfg.ArchiveID != 0 {
		return s.cfg.ArchiveID, nil
	}
	raw, err := s.ledger.Metadata(ctx, metaArchiveID)
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (s *SyncService) open(ctx context.Context, key []byte, mayCreate bool) (*syncer.Session, error) {
	archiveID, err := s.ArchiveID(ctx)
	if err != nil {
		return nil, err
	}
	create := archiveID == 0
	if create && !(mayCreate && s.cfg.CreateArchive) {
		return nil, client.ErrNoArchive
	}
	if !create && s.cfg.CreateArchive {
		s.log.Warn(ctx, "archive already configured, not creating a new one", "archive_id", archiveID)
	}

	codec, err := cryptox.NewBlockCodec(key)
	if err != nil {
		return nil, err
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	sess := syncer.NewSession(conn, s.ledger, codec, s.engine, s.cfg.SessionConfig(), s.log)
	id, err := sess.Hello(ctx, archiveID, cryptox.ArchivePass(key), create)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	if id != archiveID {
		s.log.Info(ctx, "archive created", "archive_id", id)
		if err := s.ledger.SetMetadata(ctx, metaArchiveID, binary.BigEndian.AppendUint32(nil, id)); err != nil {
			_ = sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

// Archive uploads the changed files under paths.
func (s *SyncService) Archive(ctx context.Context, key []byte, paths []string) (syncer.Stats, error) {
	sess, err := s.open(ctx, key, true)
	if err != nil {
		return syncer.Stats{}, err
	}
	defer sess.Close()

	return sess.Archive(ctx, paths)
}

// Extract rebuilds archived files under dest. With patterns, only files
// whose path matches one of them (see MatchAny) are extracted.
func (s *SyncService) Extract(ctx context.Context, key []byte, dest string, patterns []string) (syncer.Stats, error) {
	sess, err := s.open(ctx, key, false)
	if err != nil {
		return syncer.Stats{}, err
	}
	defer sess.Close()

	return sess.Extract(ctx, dest, MatchAny(patterns))
}

// FileInfo is one line of List.
type FileInfo struct {
	Path    string
	Summary models.Summary
}

// List returns every file with a completed archive in the current archive,
// ordered by file id. It does not contact the block store.
func (s *SyncService) List(ctx context.Context) ([]FileInfo, error) {
	archiveID, err := s.ArchiveID(ctx)
	if err != nil {
		return nil, err
	}
	if archiveID == 0 {
		return nil, client.ErrNoArchive
	}

	sums, err := s.ledger.ForArchive(archiveID).Summaries(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]FileInfo, 0, len(sums))
	for _, sum := range sums {
		path, err := s.ledger.Path(ctx, sum.FileID)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", sum.FileID, err)
		}
		out = append(out, FileInfo{Path: path, Summary: sum})
	}
	return out, nil
}

// MatchAny returns a filter accepting a path that equals a pattern, lies
// under it, or matches it with filepath.Match either whole or by base name.
// No patterns accept everything.
func MatchAny(patterns []string) func(string) bool {
	if len(patterns) == 0 {
		return nil
	}
	return func(path string) bool {
		for _, p := range patterns {
			p = filepath.Clean(p)
			if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
				return true
			}
			if ok, _ := filepath.Match(p, path); ok {
				return true
			}
			if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
				return true
			}
		}
		return false
	}
}
