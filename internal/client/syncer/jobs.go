package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/filex"
	"github.com/dmitrijs2005/blocksync/internal/models"
	"github.com/dmitrijs2005/blocksync/internal/ticket"
)

// Archive uploads every regular file under paths that changed since its
// last completed archive.
func (s *Session) Archive(ctx context.Context, paths []string) (Stats, error) {
	files := s.collect(ctx, paths)

	jobs := make([]job, 0, len(files))
	for _, p := range files {
		jobs = append(jobs, s.archiveJob(p))
	}

	err := s.run(ctx, jobs)
	s.log.Info(ctx, "archive finished", "files", len(files), "archived", s.stats.Archived,
		"unchanged", s.stats.Unchanged, "failed", s.stats.Failed,
		"uploaded", s.stats.BlocksUploaded, "reused", s.stats.BlocksReused)
	return s.stats, err
}

// collect walks roots and returns absolute paths of regular files. Entries
// that cannot be read are logged and skipped.
func (s *Session) collect(ctx context.Context, roots []string) []string {
	var files []string
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			s.log.Warn(ctx, "bad path", "path", root, "error", err)
			s.stats.Skipped++
			continue
		}

		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				s.log.Warn(ctx, "cannot read", "path", p, "error", err)
				s.stats.Skipped++
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			s.log.Warn(ctx, "walk failed", "path", abs, "error", err)
		}
	}
	return files
}

// maxFileLength is the largest file a session archives: block offsets are
// 32-bit and the block list must fit in one frame.
func (s *Session) maxFileLength() int64 {
	return min(int64(math.MaxUint32), ticket.MaxFileLength(s.env.Coverer.BlockLength(), s.cfg.MaxFrameSize))
}

func (s *Session) archiveJob(path string) job {
	return func(ctx context.Context) (*ticket.Ticket, error) {
		info, err := os.Lstat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		if !info.Mode().IsRegular() {
			s.stats.Skipped++
			return nil, nil
		}
		if limit := s.maxFileLength(); info.Size() > limit {
			s.log.Warn(ctx, "file too large", "path", path, "size", info.Size(), "limit", limit)
			s.stats.Skipped++
			return nil, nil
		}

		fid, err := s.led.EnsureFileID(ctx, path)
		if err != nil {
			return nil, err
		}
		prev, err := s.led.Summary(ctx, fid)
		if err != nil {
			return nil, err
		}

		inode := filex.Inode(info)
		if prev != nil && !prev.Changed(info.Size(), info.ModTime(), inode, info.Mode().Perm()) {
			s.log.Debug(ctx, "file unchanged", "path", path, "file_id", fid)
			s.stats.Unchanged++
			return nil, nil
		}

		summary := models.Summary{
			FileID:      fid,
			ModTime:     info.ModTime(),
			FileLength:  info.Size(),
			Inode:       inode,
			Permissions: info.Mode().Perm(),
		}
		return ticket.NewArchive(path, summary, prev), nil
	}
}

// Extract rebuilds archived files under dest. match selects files by their
// archived path; nil selects everything.
func (s *Session) Extract(ctx context.Context, dest string, match func(path string) bool) (Stats, error) {
	root, err := filex.EnsureDir(dest)
	if err != nil {
		return s.stats, fmt.Errorf("%w: %w", common.ErrIO, err)
	}

	sums, err := s.led.Summaries(ctx)
	if err != nil {
		return s.stats, err
	}

	var jobs []job
	for _, sum := range sums {
		path, err := s.led.Path(ctx, sum.FileID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				s.log.Warn(ctx, "summary without path", "file_id", sum.FileID)
				s.stats.Skipped++
				continue
			}
			return s.stats, err
		}
		if match != nil && !match(path) {
			continue
		}
		target := filex.UnderRoot(root, path)
		jobs = append(jobs, func(context.Context) (*ticket.Ticket, error) {
			return ticket.NewExtract(target, sum), nil
		})
	}

	err = s.run(ctx, jobs)
	s.log.Info(ctx, "extract finished", "files", len(jobs), "extracted", s.stats.Extracted,
		"incomplete", s.stats.Incomplete, "failed", s.stats.Failed, "downloaded", s.stats.BlocksDownloaded)
	return s.stats, err
}
