// Package covering computes, for the current contents of a file and the
// covering stored at its last sync, a new covering that reuses as many
// already-stored blocks as possible and carves fresh blocks for the rest.
package covering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/dmitrijs2005/blocksync/internal/checksum"
	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/models"
	"github.com/dmitrijs2005/blocksync/internal/weakindex"
)

const (
	DefaultBlockLength = 1024
	// MaxBlockLength is bounded by the u16 length field of the block list.
	MaxBlockLength = math.MaxUint16 &^ (checksum.WordSize - 1)
)

// Engine holds the per-invocation configuration and scratch space. An
// Engine is not safe for concurrent use; create one per goroutine.
type Engine struct {
	blockLength int
	log         logging.Logger
	scratch     []byte
}

// NewEngine validates blockLength: it must be a positive multiple of the
// rolling checksum word size no larger than MaxBlockLength.
func NewEngine(blockLength int, log logging.Logger) (*Engine, error) {
	if blockLength <= 0 || blockLength%checksum.WordSize != 0 || blockLength > MaxBlockLength {
		return nil, fmt.Errorf("%w: %d", common.ErrInvalidBlockLength, blockLength)
	}
	return &Engine{
		blockLength: blockLength,
		log:         log.With("module", "covering"),
	}, nil
}

func (e *Engine) BlockLength() int {
	return e.blockLength
}

// Cover returns the new covering of the first size bytes of r. previous is
// not modified. Reused blocks keep their RemoteID; if their position moved
// their LocalID is reset to zero. Fresh blocks have no checksums yet, see
// FillBlock.
func (e *Engine) Cover(ctx context.Context, r io.ReaderAt, size int64, previous []models.Block) ([]models.Block, error) {
	if size < 0 {
		return nil, fmt.Errorf("covering: negative size %d", size)
	}

	var matched []models.Block
	if len(previous) > 0 && size >= int64(e.blockLength) {
		matched = e.match(ctx, r, size, previous)
	}
	return e.fill(size, matched), nil
}

// match is the first phase: every previous block is looked up by its weak
// checksum and only kept if the strong digest of the current bytes at the
// candidate offset agrees.
func (e *Engine) match(ctx context.Context, r io.ReaderAt, size int64, previous []models.Block) []models.Block {
	idx := weakindex.Build(ctx, r, size, e.blockLength, e.log)

	taken := make(map[int64]bool)
	var matched []models.Block

	for _, prev := range previous {
		b := prev
		b.Data = nil
		b.Queued = false
		b.Acknowledged = false
		b.InNewCovering = false

		if b.Length <= 0 {
			continue
		}

		var candidates []int64
		if b.Length == e.blockLength {
			candidates = preferOffset(idx.FindAll(b.Weak), b.Offset)
		} else {
			// Odd-sized blocks are not in the index; they can only be
			// reused where they were.
			candidates = []int64{b.Offset}
		}

		for _, off := range candidates {
			if taken[off] || off < 0 || off+int64(b.Length) > size {
				continue
			}
			ok, err := e.verify(r, off, b.Length, b.Strong)
			if err != nil {
				e.log.Warn(ctx, "read failed while verifying match", "offset", off, "error", err)
				continue
			}
			if !ok {
				continue
			}

			if off != b.Offset {
				b.Offset = off
				b.LocalID = 0
			}
			b.InNewCovering = true
			taken[off] = true
			matched = append(matched, b)
			break
		}
	}

	e.log.Debug(ctx, "match phase done", "previous", len(previous), "matched", len(matched), "indexed", idx.Len())
	return matched
}

// preferOffset moves want to the front of offs if present.
func preferOffset(offs []int64, want int64) []int64 {
	for i, o := range offs {
		if o == want {
			if i != 0 {
				offs[0], offs[i] = offs[i], offs[0]
			}
			break
		}
	}
	return offs
}

func (e *Engine) verify(r io.ReaderAt, off int64, length int, want checksum.Digest) (bool, error) {
	buf, err := e.read(r, off, length)
	if err != nil {
		return false, err
	}
	return checksum.Strong(buf) == want, nil
}

func (e *Engine) read(r io.ReaderAt, off int64, length int) ([]byte, error) {
	if cap(e.scratch) < length {
		e.scratch = make([]byte, length)
	}
	buf := e.scratch[:length]
	if err := readFull(r, off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// fill is the second phase: matched blocks are laid out by offset and the
// uncovered ranges between them are carved into fresh blocks.
func (e *Engine) fill(size int64, matched []models.Block) []models.Block {
	sort.Slice(matched, func(i, j int) bool { return matched[i].Offset < matched[j].Offset })

	bl := int64(e.blockLength)
	out := make([]models.Block, 0, len(matched)+int(size/bl)+1)
	var cursor int64

	for _, m := range matched {
		if m.End() <= cursor {
			// Everything it holds is already covered.
			continue
		}
		for cursor < m.Offset {
			n := min(bl, m.Offset-cursor)
			out = append(out, fresh(cursor, n))
			cursor += n
		}
		out = append(out, m)
		cursor = m.End()
	}

	for cursor < size {
		off, n := cursor, min(bl, size-cursor)
		if n < bl && size > bl {
			// Keep the tail block full length by sliding it back, as long as
			// offsets stay strictly ascending.
			shifted := size - bl
			if len(out) == 0 || shifted > out[len(out)-1].Offset {
				off, n = shifted, bl
			}
		}
		out = append(out, fresh(off, n))
		cursor = off + n
	}
	return out
}

func fresh(off, n int64) models.Block {
	return models.Block{Offset: off, Length: int(n), InNewCovering: true}
}

// FillBlock reads the bytes of b, computes both checksums and stages the
// bytes in b.Data. Callers drop b.Data once the payload has been sealed.
func (e *Engine) FillBlock(r io.ReaderAt, b *models.Block) error {
	data := make([]byte, b.Length)
	if err := readFull(r, b.Offset, data); err != nil {
		return fmt.Errorf("fill block at %d: %w", b.Offset, err)
	}
	b.Weak = checksum.Rolling(data)
	b.Strong = checksum.Strong(data)
	b.Data = data
	return nil
}

func readFull(r io.ReaderAt, off int64, buf []byte) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", common.ErrIO, err)
}
