// Package models defines the records shared by the covering engine, the
// block ledger and the work tickets.
package models

import (
	"os"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/checksum"
)

// Block is one byte range of one file version.
type Block struct {
	// LocalID is zero until the block has been recorded in the ledger.
	LocalID uint32 `json:"local_id"`
	// RemoteID is zero until the peer has stored the block. A block with a
	// remote id is never uploaded again.
	RemoteID uint32 `json:"remote_id"`

	Offset int64           `json:"offset"`
	Length int             `json:"length"`
	Weak   uint32          `json:"weak"`
	Strong checksum.Digest `json:"strong"`

	// Data is only populated while the block is staged for transfer.
	Data []byte `json:"-"`

	Queued        bool `json:"-"`
	Acknowledged  bool `json:"-"`
	InNewCovering bool `json:"-"`
}

// End is the offset one past the block's last byte.
func (b *Block) End() int64 {
	return b.Offset + int64(b.Length)
}

// Summary is one snapshot of a file's sync state. Summaries are never
// changed in place; a newer one replaces the old.
type Summary struct {
	FileID            uint32          `json:"file_id"`
	SummaryTime       time.Time       `json:"summary_time"`
	ModTime           time.Time       `json:"mod_time"`
	FileLength        int64           `json:"file_length"`
	Inode             uint64          `json:"inode"`
	Permissions       os.FileMode     `json:"permissions"`
	FileDigest        checksum.Digest `json:"file_digest"`
	BlockListDigest   checksum.Digest `json:"block_list_digest"`
	BlockListLength   uint32          `json:"block_list_length"`
	BlockListRemoteID uint32          `json:"block_list_remote_id"`
}

// Changed reports whether a file described by the given attributes differs
// from what s recorded.
func (s *Summary) Changed(length int64, modTime time.Time, inode uint64, perm os.FileMode) bool {
	return s.FileLength != length ||
		!s.ModTime.Equal(modTime) ||
		s.Inode != inode ||
		s.Permissions != perm
}

// Signature pairs a Summary with the covering that reconstructs the file.
type Signature struct {
	Summary  Summary
	Covering []Block
}
