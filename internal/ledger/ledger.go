// Package ledger records, per archive, every block that has been
// materialized together with the latest Summary of each file. The
// path<->file id map and settings are shared by every archive of the state
// database. All state lives in a kv.Store.
package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/kv"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/models"
)

const (
	NamespaceBlocks    = "blocks"
	NamespaceSummaries = "summaries"
	NamespaceFiles     = "files"
	NamespacePaths     = "paths"
	NamespaceCounters  = "counters"
	NamespaceMetadata  = "metadata"

	counterBlock = "block"
	counterFile  = "file"
)

var ErrCounterExhausted = errors.New("id counter exhausted")

type Ledger struct {
	store   kv.Store
	archive uint32
	log     logging.Logger
}

// New returns a ledger bound to archiveID. Zero is a valid binding for a
// session that has not opened an archive yet; see ForArchive.
func New(store kv.Store, archiveID uint32, log logging.Logger) *Ledger {
	return &Ledger{store: store, archive: archiveID, log: log.With("module", "ledger")}
}

// ForArchive returns a ledger over the same store whose blocks, summaries
// and block counter belong to archiveID.
func (l *Ledger) ForArchive(archiveID uint32) *Ledger {
	return &Ledger{store: l.store, archive: archiveID, log: l.log}
}

func (l *Ledger) ArchiveID() uint32 {
	return l.archive
}

// ns scopes a per-archive namespace, e.g. "summaries:7".
func (l *Ledger) ns(namespace string) string {
	return namespace + ":" + idKey(l.archive)
}

func idKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// nextID bumps the named counter and returns the new value; the first id
// handed out is 1.
func (l *Ledger) nextID(ctx context.Context, namespace, counter string) (uint32, error) {
	var id uint32
	err := l.store.Update(ctx, namespace, counter, func(old []byte) ([]byte, error) {
		var cur uint32
		if len(old) == 4 {
			cur = binary.BigEndian.Uint32(old)
		}
		if cur == math.MaxUint32 {
			return nil, ErrCounterExhausted
		}
		id = cur + 1
		return binary.BigEndian.AppendUint32(nil, id), nil
	})
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", counter, err)
	}
	return id, nil
}

// Add assigns b a LocalID if it has none and persists its metadata. The
// payload is never stored. Adding a block that already has a LocalID
// overwrites its record.
func (l *Ledger) Add(ctx context.Context, b *models.Block) error {
	if b.LocalID == 0 {
		id, err := l.nextID(ctx, l.ns(NamespaceCounters), counterBlock)
		if err != nil {
			return err
		}
		b.LocalID = id
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.LocalID, err)
	}
	if err := l.store.Put(ctx, l.ns(NamespaceBlocks), idKey(b.LocalID), data); err != nil {
		return err
	}
	l.log.Debug(ctx, "block recorded", "local_id", b.LocalID, "remote_id", b.RemoteID, "offset", b.Offset)
	return nil
}

// Fetch loads the block recorded under localID. Data is always nil.
func (l *Ledger) Fetch(ctx context.Context, localID uint32) (models.Block, error) {
	data, err := l.store.Get(ctx, l.ns(NamespaceBlocks), idKey(localID))
	if err != nil {
		return models.Block{}, err
	}
	if data == nil {
		return models.Block{}, fmt.Errorf("block %d: %w", localID, common.ErrorNotFound)
	}

	var b models.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return models.Block{}, fmt.Errorf("decode block %d: %w", localID, err)
	}
	return b, nil
}

// FileID looks up the id assigned to path. ok is false when the path has
// never been seen.
func (l *Ledger) FileID(ctx context.Context, path string) (id uint32, ok bool, err error) {
	data, err := l.store.Get(ctx, NamespaceFiles, path)
	if err != nil || data == nil {
		return 0, false, err
	}
	if len(data) != 4 {
		return 0, false, fmt.Errorf("file id for %q: corrupt record", path)
	}
	return binary.BigEndian.Uint32(data), true, nil
}

// EnsureFileID returns the id of path, allocating a new one on first sight.
// File ids are stable for the life of the archive.
func (l *Ledger) EnsureFileID(ctx context.Context, path string) (uint32, error) {
	id, ok, err := l.FileID(ctx, path)
	if err != nil || ok {
		return id, err
	}

	id, err = l.nextID(ctx, NamespaceCounters, counterFile)
	if err != nil {
		return 0, err
	}
	if err := l.store.Put(ctx, NamespacePaths, idKey(id), []byte(path)); err != nil {
		return 0, err
	}
	if err := l.store.Put(ctx, NamespaceFiles, path, binary.BigEndian.AppendUint32(nil, id)); err != nil {
		return 0, err
	}
	return id, nil
}

// Path is the inverse of FileID.
func (l *Ledger) Path(ctx context.Context, fileID uint32) (string, error) {
	data, err := l.store.Get(ctx, NamespacePaths, idKey(fileID))
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", fmt.Errorf("path of file %d: %w", fileID, common.ErrorNotFound)
	}
	return string(data), nil
}

// Summary returns the latest summary of fileID in the bound archive, or nil
// if the file has never completed a sync there.
func (l *Ledger) Summary(ctx context.Context, fileID uint32) (*models.Summary, error) {
	data, err := l.store.Get(ctx, l.ns(NamespaceSummaries), idKey(fileID))
	if err != nil || data == nil {
		return nil, err
	}

	var s models.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode summary %d: %w", fileID, err)
	}
	return &s, nil
}

// PutSummary replaces the summary of s.FileID.
func (l *Ledger) PutSummary(ctx context.Context, s models.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary %d: %w", s.FileID, err)
	}
	return l.store.Put(ctx, l.ns(NamespaceSummaries), idKey(s.FileID), data)
}

// Summaries returns every stored summary ordered by file id. Undecodable
// records are skipped with a warning.
func (l *Ledger) Summaries(ctx context.Context) ([]models.Summary, error) {
	all, err := l.store.List(ctx, l.ns(NamespaceSummaries))
	if err != nil {
		return nil, err
	}

	out := make([]models.Summary, 0, len(all))
	for key, data := range all {
		var s models.Summary
		if err := json.Unmarshal(data, &s); err != nil {
			l.log.Warn(ctx, "skipping corrupt summary", "key", key, "error", err)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

// Metadata reads an archive-level setting (salt, archive id). nil means unset.
func (l *Ledger) Metadata(ctx context.Context, key string) ([]byte, error) {
	return l.store.Get(ctx, NamespaceMetadata, key)
}

func (l *Ledger) SetMetadata(ctx context.Context, key string, value []byte) error {
	return l.store.Put(ctx, NamespaceMetadata, key, value)
}
