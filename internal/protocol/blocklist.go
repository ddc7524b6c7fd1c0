package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dmitrijs2005/blocksync/internal/checksum"
	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/models"
)

// BlockListVersion is written in front of every block record.
const BlockListVersion uint8 = 1

// blockRecordSize is local_id, version, remote_id, offset, length, weak, strong.
const blockRecordSize = 4 + 1 + 4 + 4 + 2 + 4 + checksum.DigestSize

// BlockListSize is the encoded size of a block list with n blocks.
func BlockListSize(n int) int {
	return 4 + n*blockRecordSize
}

// BlockListCapacity is the largest number of blocks whose encoded list is
// at most size bytes.
func BlockListCapacity(size int) int {
	if size < 4 {
		return 0
	}
	return (size - 4) / blockRecordSize
}

// EncodeBlockList serializes a covering. Offsets must fit in 32 bits and
// lengths in 16.
func EncodeBlockList(blocks []models.Block) ([]byte, error) {
	out := make([]byte, 0, BlockListSize(len(blocks)))
	out = binary.BigEndian.AppendUint32(out, uint32(len(blocks)))

	for i := range blocks {
		b := &blocks[i]
		if b.Offset < 0 || b.Offset > math.MaxUint32 {
			return nil, fmt.Errorf("block list: offset %d out of range", b.Offset)
		}
		if b.Length <= 0 || b.Length > math.MaxUint16 {
			return nil, fmt.Errorf("block list: length %d out of range", b.Length)
		}
		out = binary.BigEndian.AppendUint32(out, b.LocalID)
		out = append(out, BlockListVersion)
		out = binary.BigEndian.AppendUint32(out, b.RemoteID)
		out = binary.BigEndian.AppendUint32(out, uint32(b.Offset))
		out = binary.BigEndian.AppendUint16(out, uint16(b.Length))
		out = binary.BigEndian.AppendUint32(out, b.Weak)
		out = append(out, b.Strong[:]...)
	}
	return out, nil
}

// DecodeBlockList is the inverse of EncodeBlockList. Decoded blocks carry
// no payload and no transfer flags.
func DecodeBlockList(data []byte) ([]models.Block, error) {
	r := &reader{buf: data}
	count := r.u32()
	if r.err != nil {
		return nil, fmt.Errorf("block list: %w", r.err)
	}
	if uint64(count)*blockRecordSize != uint64(len(r.buf)) {
		return nil, fmt.Errorf("%w: block list of %d blocks has %d bytes", common.ErrProtocol, count, len(r.buf))
	}

	blocks := make([]models.Block, count)
	for i := range blocks {
		b := &blocks[i]
		b.LocalID = r.u32()
		if v := r.u8(); v != BlockListVersion {
			return nil, fmt.Errorf("%w: block record version %d", common.ErrProtocol, v)
		}
		b.RemoteID = r.u32()
		b.Offset = int64(r.u32())
		b.Length = int(r.u16())
		b.Weak = r.u32()
		copy(b.Strong[:], r.take(checksum.DigestSize))
	}
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("block list: %w", err)
	}
	return blocks, nil
}
