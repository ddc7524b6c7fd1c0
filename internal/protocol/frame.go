package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/blocksync/internal/common"
)

// DefaultMaxFrameSize bounds a single frame; anything larger is treated as
// a desynchronized stream.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge means a message would not fit in the peer's frame limit.
var ErrFrameTooLarge = errors.New("frame too large")

// putBlockOverhead is the tag, file id, block id and payload length of a
// PutBlock frame.
const putBlockOverhead = 1 + 4 + 4 + 4

// MaxPutPayload is the largest PutBlock payload a peer with the given frame
// limit accepts. Zero means DefaultMaxFrameSize.
func MaxPutPayload(maxFrameSize uint32) int {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return int(maxFrameSize) - putBlockOverhead
}

// WriteFrame encodes m and writes it as one length-prefixed frame.
func WriteFrame(w io.Writer, m Message) (int, error) {
	payload, err := Encode(m)
	if err != nil {
		return 0, err
	}
	frame := make([]byte, 0, 4+len(payload))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	return w.Write(frame)
}

// FrameReader yields whole messages from a byte stream.
type FrameReader struct {
	r   *bufio.Reader
	max uint32
}

func NewFrameReader(r io.Reader, maxFrameSize uint32) *FrameReader {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FrameReader{r: bufio.NewReader(r), max: maxFrameSize}
}

// Buffered reports how many bytes are already read from the stream but not
// yet consumed. Zero means the next ReadMessage will block on the stream.
func (f *FrameReader) Buffered() int {
	return f.r.Buffered()
}

// ReadMessage blocks until a complete frame is available. A clean close
// between frames returns io.EOF; a close mid-frame returns
// io.ErrUnexpectedEOF. Oversized or undecodable frames return
// common.ErrProtocol.
func (f *FrameReader) ReadMessage() (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > f.max {
		return nil, fmt.Errorf("%w: frame length %d", common.ErrProtocol, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Decode(payload)
}
