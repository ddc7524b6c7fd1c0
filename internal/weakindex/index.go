// Package weakindex maps rolling checksums of every block-length window in
// a file to the offsets they occur at. An Index is built for one covering
// computation and then thrown away.
package weakindex

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/blocksync/internal/checksum"
	"github.com/dmitrijs2005/blocksync/internal/logging"
)

type entry struct {
	sum    uint32
	offset int64
}

// Index is a multimap keyed by the low 16 bits of the rolling sum. Lookups
// compare the full 32-bit sum.
type Index struct {
	blockLength int
	buckets     map[uint16][]entry
	size        int
}

func bucketOf(sum uint32) uint16 {
	return uint16(sum & 0xFFFF)
}

// Build indexes every window of blockLength bytes that fits entirely inside
// the first size bytes of r. blockLength must be a positive multiple of
// checksum.WordSize. A read error ends indexing early with a warning; the
// index is still usable, it just knows fewer offsets.
func Build(ctx context.Context, r io.ReaderAt, size int64, blockLength int, log logging.Logger) *Index {
	idx := &Index{
		blockLength: blockLength,
		buckets:     make(map[uint16][]entry),
	}
	if blockLength <= 0 || blockLength%checksum.WordSize != 0 || size < int64(blockLength) {
		return idx
	}

	for align := int64(0); align < checksum.WordSize; align++ {
		if align+int64(blockLength) > size {
			break
		}
		if err := idx.scan(r, align, size); err != nil {
			log.Warn(ctx, "weak index scan stopped early", "alignment", align, "error", err)
		}
	}
	return idx
}

// scan walks windows starting at align, align+4, ... keeping the last
// blockLength/4 words in a ring so the outgoing word is always at hand.
func (idx *Index) scan(r io.ReaderAt, align, size int64) error {
	words := idx.blockLength / checksum.WordSize
	br := bufio.NewReaderSize(io.NewSectionReader(r, align, size-align), 64*1024)

	window := make([]byte, idx.blockLength)
	if _, err := io.ReadFull(br, window); err != nil {
		return err
	}

	ring := make([]uint32, words)
	for i := range ring {
		ring[i] = checksum.Word(window[i*checksum.WordSize:])
	}
	sum := checksum.Rolling(window)
	idx.insert(sum, align)

	var next [checksum.WordSize]byte
	head := 0
	for off := align + checksum.WordSize; off+int64(idx.blockLength) <= size; off += checksum.WordSize {
		if _, err := io.ReadFull(br, next[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		in := checksum.Word(next[:])
		sum = checksum.RollingUpdate(ring[head], in, sum, words)
		ring[head] = in
		head = (head + 1) % words
		idx.insert(sum, off)
	}
	return nil
}

func (idx *Index) insert(sum uint32, offset int64) {
	b := bucketOf(sum)
	idx.buckets[b] = append(idx.buckets[b], entry{sum: sum, offset: offset})
	idx.size++
}

// BlockLength is the window length the index was built with.
func (idx *Index) BlockLength() int {
	return idx.blockLength
}

// Len is the number of indexed windows.
func (idx *Index) Len() int {
	return idx.size
}

// Find returns the lowest offset whose window has the given sum.
func (idx *Index) Find(sum uint32) (int64, bool) {
	found := false
	var best int64
	for _, e := range idx.buckets[bucketOf(sum)] {
		if e.sum == sum && (!found || e.offset < best) {
			best, found = e.offset, true
		}
	}
	return best, found
}

// FindAll returns every offset whose window has the given sum, in
// insertion order (grouped by alignment).
func (idx *Index) FindAll(sum uint32) []int64 {
	var out []int64
	for _, e := range idx.buckets[bucketOf(sum)] {
		if e.sum == sum {
			out = append(out, e.offset)
		}
	}
	return out
}
