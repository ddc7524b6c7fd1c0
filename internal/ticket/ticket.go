// Package ticket implements the per-file transfer state machine. A Ticket
// turns a covering into PutBlock/GetBlock messages one at a time and
// advances on the acknowledgments routed back to it. Tickets never touch
// the connection; the session owning them moves the messages.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/checksum"
	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/cryptox"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/models"
	"github.com/dmitrijs2005/blocksync/internal/protocol"
)

// Ledger is the part of the block ledger a ticket writes to.
type Ledger interface {
	Add(ctx context.Context, b *models.Block) error
	PutSummary(ctx context.Context, s models.Summary) error
}

// Coverer computes coverings and fills fresh blocks lazily.
type Coverer interface {
	BlockLength() int
	Cover(ctx context.Context, r io.ReaderAt, size int64, previous []models.Block) ([]models.Block, error)
	FillBlock(r io.ReaderAt, b *models.Block) error
}

// Env bundles the collaborators every ticket of a session shares.
type Env struct {
	Codec   cryptox.Codec
	Ledger  Ledger
	Coverer Coverer
	Log     logging.Logger
	Now     func() time.Time
	// MaxFrameSize is the peer's frame limit; zero means the protocol default.
	MaxFrameSize uint32
}

// ErrBlockListTooLarge means a file has more blocks than one PutBlock can
// carry. Only that file is abandoned.
var ErrBlockListTooLarge = fmt.Errorf("block list: %w", protocol.ErrFrameTooLarge)

// blockListRoom is the part of a PutBlock payload a plain block list may
// use, leaving room for compression framing and the AES-GCM nonce and tag.
func blockListRoom(maxFrameSize uint32) int {
	room := protocol.MaxPutPayload(maxFrameSize)
	return room - room/64 - 256
}

// MaxFileLength is the largest file whose fresh covering still yields a
// block list that fits in one frame.
func MaxFileLength(blockLength int, maxFrameSize uint32) int64 {
	return int64(protocol.BlockListCapacity(blockListRoom(maxFrameSize))) * int64(blockLength)
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

type Ticket struct {
	FileID    uint32
	Path      string
	Direction Direction
	State     State
	Sig       models.Signature

	NextBlockToQueue int
	NumBlocksMoved   int

	// Incomplete is set on extract when any block could not be installed.
	Incomplete bool

	Uploaded   int
	Reused     int
	Downloaded int

	previous *models.Summary
	file     *os.File
	outbox   []protocol.Message
	log      logging.Logger
}

// NewArchive prepares the upload of path. summary describes the file as it
// is now; previous is its last completed Summary, or nil for a new file.
func NewArchive(path string, summary models.Summary, previous *models.Summary) *Ticket {
	return &Ticket{
		FileID:    summary.FileID,
		Path:      path,
		Direction: Archive,
		State:     StateNew,
		Sig:       models.Signature{Summary: summary},
		previous:  previous,
	}
}

// NewExtract prepares the reconstruction of the file described by summary
// at dest.
func NewExtract(dest string, summary models.Summary) *Ticket {
	return &Ticket{
		FileID:    summary.FileID,
		Path:      dest,
		Direction: Extract,
		State:     StateNew,
		Sig:       models.Signature{Summary: summary},
	}
}

func (t *Ticket) Finished() bool {
	return t.State == StateFinished
}

// Start opens the file and queues the first request. New files being
// archived are covered right away; everything else first fetches the
// stored block list.
func (t *Ticket) Start(ctx context.Context, env *Env) error {
	if t.State != StateNew {
		return fmt.Errorf("ticket %d: start in state %s", t.FileID, t.State)
	}
	t.log = env.Log.With("file_id", t.FileID, "path", t.Path, "direction", t.Direction.String())

	switch t.Direction {
	case Archive:
		f, err := os.Open(t.Path)
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		t.file = f
		if t.previous == nil {
			return t.cover(ctx, env, nil)
		}
	case Extract:
		if err := os.MkdirAll(filepath.Dir(t.Path), 0o755); err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		f, err := os.OpenFile(t.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		t.file = f
		if err := f.Truncate(t.Sig.Summary.FileLength); err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
	}

	t.outbox = append(t.outbox, protocol.GetBlock{FileID: t.FileID})
	t.State = StateAwaitingBlockList
	return nil
}

// cover computes the new covering, records reused blocks whose position
// changed and moves on to uploading.
func (t *Ticket) cover(ctx context.Context, env *Env, previous []models.Block) error {
	size := t.Sig.Summary.FileLength

	cov, err := env.Coverer.Cover(ctx, t.file, size, previous)
	if err != nil {
		return err
	}
	for i := range cov {
		b := &cov[i]
		if b.RemoteID == 0 {
			continue
		}
		t.Reused++
		if b.LocalID == 0 {
			if err := env.Ledger.Add(ctx, b); err != nil {
				return fmt.Errorf("record moved block: %w", err)
			}
		}
	}

	digest, err := checksum.StrongReader(io.NewSectionReader(t.file, 0, size))
	if err != nil {
		return fmt.Errorf("%w: file digest: %w", common.ErrIO, err)
	}

	if n := protocol.BlockListSize(len(cov)); n > blockListRoom(env.MaxFrameSize) {
		return fmt.Errorf("%w: %d blocks need %d bytes", ErrBlockListTooLarge, len(cov), n)
	}

	t.Sig.Covering = cov
	t.Sig.Summary.FileDigest = digest
	t.State = StateSendingBlocks
	t.log.Debug(ctx, "covering computed", "blocks", len(cov), "reused", t.Reused)
	return nil
}

// NextMessage returns the next message this ticket wants sent, or nil if it
// is waiting on the peer.
func (t *Ticket) NextMessage(ctx context.Context, env *Env) (protocol.Message, error) {
	if len(t.outbox) > 0 {
		m := t.outbox[0]
		t.outbox = t.outbox[1:]
		return m, nil
	}

	switch t.State {
	case StateSendingBlocks:
		for t.NextBlockToQueue < len(t.Sig.Covering) {
			b := &t.Sig.Covering[t.NextBlockToQueue]
			t.NextBlockToQueue++
			if !b.InNewCovering || b.RemoteID != 0 {
				continue
			}

			if err := env.Coverer.FillBlock(t.file, b); err != nil {
				return nil, err
			}
			sealed, err := env.Codec.Seal(b.Data)
			b.Data = nil
			if err != nil {
				return nil, fmt.Errorf("seal block at %d: %w", b.Offset, err)
			}

			b.Queued = true
			t.NumBlocksMoved++
			t.Uploaded++
			return protocol.PutBlock{FileID: t.FileID, BlockID: uint32(t.NextBlockToQueue), Payload: sealed}, nil
		}

		t.State = StateAwaitingBlockConfirms
		if t.NumBlocksMoved == 0 {
			return t.blockListMessage(env)
		}

	case StateSendingBlockRequests:
		if t.NextBlockToQueue < len(t.Sig.Covering) {
			b := &t.Sig.Covering[t.NextBlockToQueue]
			t.NextBlockToQueue++
			b.Queued = true
			t.NumBlocksMoved++
			return protocol.GetBlock{FileID: t.FileID, BlockID: uint32(t.NextBlockToQueue), ArchiveID: b.RemoteID}, nil
		}

		t.State = StateAwaitingBlockConfirms
		if t.NumBlocksMoved == 0 {
			t.finishExtract(ctx)
		}
	}
	return nil, nil
}

// RequestCost is the number of bytes m keeps in flight until acknowledged.
func (t *Ticket) RequestCost(m protocol.Message) int {
	switch v := m.(type) {
	case protocol.PutBlock:
		return len(v.Payload)
	case protocol.GetBlock:
		if v.BlockID == 0 {
			if t.Direction == Archive && t.previous != nil {
				return int(t.previous.BlockListLength)
			}
			return int(t.Sig.Summary.BlockListLength)
		}
		if i := int(v.BlockID) - 1; i < len(t.Sig.Covering) {
			return t.Sig.Covering[i].Length
		}
	}
	return 0
}

func (t *Ticket) blockListMessage(env *Env) (protocol.Message, error) {
	data, err := protocol.EncodeBlockList(t.Sig.Covering)
	if err != nil {
		return nil, err
	}
	sealed, err := env.Codec.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("seal block list: %w", err)
	}
	if limit := protocol.MaxPutPayload(env.MaxFrameSize); len(sealed) > limit {
		return nil, fmt.Errorf("%w: %d sealed bytes, limit %d", ErrBlockListTooLarge, len(sealed), limit)
	}

	t.Sig.Summary.BlockListDigest = checksum.Strong(data)
	t.Sig.Summary.BlockListLength = uint32(len(data))
	t.State = StateAwaitingBlockListConfirm
	return protocol.PutBlock{FileID: t.FileID, BlockID: 0, Payload: sealed}, nil
}

func (t *Ticket) block(blockID uint32) (*models.Block, error) {
	i := int(blockID) - 1
	if i < 0 || i >= t.NextBlockToQueue {
		return nil, fmt.Errorf("%w: file %d has no queued block %d", common.ErrProtocol, t.FileID, blockID)
	}
	b := &t.Sig.Covering[i]
	if !b.Queued || b.Acknowledged {
		return nil, fmt.Errorf("%w: file %d block %d acknowledged twice", common.ErrProtocol, t.FileID, blockID)
	}
	return b, nil
}

// OnPutBlockAck handles the peer's confirmation of an upload.
func (t *Ticket) OnPutBlockAck(ctx context.Context, env *Env, blockID, remoteID uint32) error {
	if t.Direction != Archive {
		return fmt.Errorf("%w: put ack for extracting file %d", common.ErrProtocol, t.FileID)
	}

	if blockID == 0 {
		if t.State != StateAwaitingBlockListConfirm {
			return fmt.Errorf("%w: block list ack for file %d in state %s", common.ErrProtocol, t.FileID, t.State)
		}
		t.Sig.Summary.BlockListRemoteID = t.FileID
		t.Sig.Summary.SummaryTime = env.now()
		if err := env.Ledger.PutSummary(ctx, t.Sig.Summary); err != nil {
			return fmt.Errorf("store summary: %w", err)
		}
		t.finish()
		t.log.Info(ctx, "file archived", "blocks", len(t.Sig.Covering), "uploaded", t.Uploaded, "reused", t.Reused)
		return nil
	}

	if t.State != StateSendingBlocks && t.State != StateAwaitingBlockConfirms {
		return fmt.Errorf("%w: block ack for file %d in state %s", common.ErrProtocol, t.FileID, t.State)
	}
	b, err := t.block(blockID)
	if err != nil {
		return err
	}
	if remoteID == 0 {
		return fmt.Errorf("%w: file %d block %d acked without remote id", common.ErrProtocol, t.FileID, blockID)
	}

	b.RemoteID = remoteID
	b.Acknowledged = true
	if err := env.Ledger.Add(ctx, b); err != nil {
		return fmt.Errorf("record block: %w", err)
	}
	t.NumBlocksMoved--

	if t.State == StateAwaitingBlockConfirms && t.NumBlocksMoved == 0 {
		m, err := t.blockListMessage(env)
		if err != nil {
			return err
		}
		t.outbox = append(t.outbox, m)
	}
	return nil
}

// OnGetBlockAck handles a downloaded block list (blockID 0) or block.
func (t *Ticket) OnGetBlockAck(ctx context.Context, env *Env, blockID uint32, payload []byte) error {
	if blockID == 0 {
		if t.State != StateAwaitingBlockList {
			return fmt.Errorf("%w: block list for file %d in state %s", common.ErrProtocol, t.FileID, t.State)
		}
		return t.onBlockList(ctx, env, payload)
	}

	if t.Direction != Extract {
		return fmt.Errorf("%w: block download for archiving file %d", common.ErrProtocol, t.FileID)
	}
	if t.State != StateSendingBlockRequests && t.State != StateAwaitingBlockConfirms {
		return fmt.Errorf("%w: block for file %d in state %s", common.ErrProtocol, t.FileID, t.State)
	}
	b, err := t.block(blockID)
	if err != nil {
		return err
	}

	t.install(ctx, env, b, payload)
	b.Acknowledged = true
	t.NumBlocksMoved--

	if t.State == StateAwaitingBlockConfirms && t.NumBlocksMoved == 0 {
		t.finishExtract(ctx)
	}
	return nil
}

func (t *Ticket) onBlockList(ctx context.Context, env *Env, payload []byte) error {
	summary := t.previous
	if t.Direction == Extract {
		summary = &t.Sig.Summary
	}

	blocks, err := openBlockList(env, payload, summary)

	if t.Direction == Archive {
		if err != nil {
			t.log.Warn(ctx, "previous block list unusable, archiving from scratch", "error", err)
			blocks = nil
		}
		return t.cover(ctx, env, blocks)
	}

	if err != nil {
		t.log.Error(ctx, "cannot extract file without its block list", "error", err)
		t.Incomplete = true
		t.finish()
		return nil
	}
	t.Sig.Covering = blocks
	t.State = StateSendingBlockRequests
	return nil
}

func openBlockList(env *Env, payload []byte, summary *models.Summary) ([]models.Block, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("block list: %w", common.ErrorNotFound)
	}
	data, err := env.Codec.Open(payload, int(summary.BlockListLength))
	if err != nil {
		return nil, err
	}
	if checksum.Strong(data) != summary.BlockListDigest {
		return nil, fmt.Errorf("block list: %w", common.ErrChecksumMismatch)
	}
	return protocol.DecodeBlockList(data)
}

// install writes a downloaded block in place after checking it is the
// block the covering asked for. Failures only mark the file incomplete.
func (t *Ticket) install(ctx context.Context, env *Env, b *models.Block, payload []byte) {
	if len(payload) == 0 {
		t.log.Warn(ctx, "block missing on remote", "remote_id", b.RemoteID, "offset", b.Offset)
		t.Incomplete = true
		return
	}

	data, err := env.Codec.Open(payload, b.Length)
	if err != nil {
		t.log.Warn(ctx, "block payload unreadable", "remote_id", b.RemoteID, "error", err)
		t.Incomplete = true
		return
	}
	if checksum.Strong(data) != b.Strong {
		t.log.Warn(ctx, "imposter block rejected", "remote_id", b.RemoteID, "offset", b.Offset,
			"error", common.ErrChecksumMismatch)
		t.Incomplete = true
		return
	}
	if _, err := t.file.WriteAt(data, b.Offset); err != nil {
		t.log.Warn(ctx, "block write failed", "offset", b.Offset, "error", err)
		t.Incomplete = true
		return
	}
	t.Downloaded++
}

func (t *Ticket) finishExtract(ctx context.Context) {
	s := t.Sig.Summary

	if !t.Incomplete {
		got, err := checksum.StrongReader(io.NewSectionReader(t.file, 0, s.FileLength))
		if err != nil || got != s.FileDigest {
			t.log.Warn(ctx, "extracted file digest mismatch", "error", errors.Join(err, common.ErrChecksumMismatch))
			t.Incomplete = true
		}
	}

	t.finish()
	if err := os.Chmod(t.Path, s.Permissions.Perm()); err != nil {
		t.log.Warn(ctx, "restore permissions failed", "error", err)
	}
	if err := os.Chtimes(t.Path, s.ModTime, s.ModTime); err != nil {
		t.log.Warn(ctx, "restore mtime failed", "error", err)
	}

	if t.Incomplete {
		t.log.Error(ctx, "file extracted incompletely", "blocks", len(t.Sig.Covering), "installed", t.Downloaded)
		return
	}
	t.log.Info(ctx, "file extracted", "blocks", len(t.Sig.Covering))
}

func (t *Ticket) finish() {
	t.State = StateFinished
	_ = t.Close()
}

// Close releases the file handle. It is safe to call more than once.
func (t *Ticket) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
