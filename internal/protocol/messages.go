// Package protocol defines the seven messages exchanged between a sync
// client and its block store, their binary layouts and the length-prefixed
// framing that carries them.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/dmitrijs2005/blocksync/internal/common"
)

// Version is the protocol version sent in Hello, HelloAck and Bye.
const Version uint8 = 1

// Kind is the command tag in the first payload byte.
type Kind uint8

const (
	KindHello Kind = iota
	KindHelloAck
	KindBye
	KindPutBlock
	KindPutBlockAck
	KindGetBlock
	KindGetBlockAck
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindHelloAck:
		return "HelloAck"
	case KindBye:
		return "Bye"
	case KindPutBlock:
		return "PutBlock"
	case KindPutBlockAck:
		return "PutBlockAck"
	case KindGetBlock:
		return "GetBlock"
	case KindGetBlockAck:
		return "GetBlockAck"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// HelloError is the status carried by HelloAck.
type HelloError uint16

const (
	HelloOK HelloError = iota
	HelloErrBadPass
	HelloErrNoArchive
	HelloErrVersion
	HelloErrInternal
)

func (e HelloError) String() string {
	switch e {
	case HelloOK:
		return "ok"
	case HelloErrBadPass:
		return "bad archive pass"
	case HelloErrNoArchive:
		return "no such archive"
	case HelloErrVersion:
		return "unsupported protocol version"
	case HelloErrInternal:
		return "internal server error"
	default:
		return fmt.Sprintf("hello error %d", uint16(e))
	}
}

type Message interface {
	Kind() Kind
}

type Hello struct {
	Version       uint8
	ArchiveID     uint32
	ArchivePass   uint32
	CreateArchive bool
	Message       string
}

type HelloAck struct {
	Version   uint8
	Error     HelloError
	ArchiveID uint32
	Message   string
}

type Bye struct {
	Version uint8
	Error   uint16
}

// PutBlock uploads a sealed payload. BlockID 0 carries the file's block list.
type PutBlock struct {
	FileID  uint32
	BlockID uint32
	Payload []byte
}

// PutBlockAck confirms a PutBlock. ArchiveID is the remote id assigned to
// the block, or 0 when a block list was stored.
type PutBlockAck struct {
	FileID    uint32
	BlockID   uint32
	ArchiveID uint32
}

// GetBlock asks for the block stored under ArchiveID, or for the file's
// block list when BlockID is 0.
type GetBlock struct {
	FileID    uint32
	BlockID   uint32
	ArchiveID uint32
}

// GetBlockAck answers a GetBlock. An empty payload means not found.
type GetBlockAck struct {
	FileID  uint32
	BlockID uint32
	Payload []byte
}

func (Hello) Kind() Kind       { return KindHello }
func (HelloAck) Kind() Kind    { return KindHelloAck }
func (Bye) Kind() Kind         { return KindBye }
func (PutBlock) Kind() Kind    { return KindPutBlock }
func (PutBlockAck) Kind() Kind { return KindPutBlockAck }
func (GetBlock) Kind() Kind    { return KindGetBlock }
func (GetBlockAck) Kind() Kind { return KindGetBlockAck }

func appendBytes(b, v []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// Encode returns the frame payload for m: the tag byte followed by the
// message fields in network byte order.
func Encode(m Message) ([]byte, error) {
	b := []byte{byte(m.Kind())}
	switch v := m.(type) {
	case Hello:
		b = append(b, v.Version)
		b = binary.BigEndian.AppendUint32(b, v.ArchiveID)
		b = binary.BigEndian.AppendUint32(b, v.ArchivePass)
		b = append(b, boolByte(v.CreateArchive))
		b = appendBytes(b, []byte(v.Message))
	case HelloAck:
		b = append(b, v.Version)
		b = binary.BigEndian.AppendUint16(b, uint16(v.Error))
		b = binary.BigEndian.AppendUint32(b, v.ArchiveID)
		b = appendBytes(b, []byte(v.Message))
	case Bye:
		b = append(b, v.Version)
		b = binary.BigEndian.AppendUint16(b, v.Error)
	case PutBlock:
		b = binary.BigEndian.AppendUint32(b, v.FileID)
		b = binary.BigEndian.AppendUint32(b, v.BlockID)
		b = appendBytes(b, v.Payload)
	case PutBlockAck:
		b = binary.BigEndian.AppendUint32(b, v.FileID)
		b = binary.BigEndian.AppendUint32(b, v.BlockID)
		b = binary.BigEndian.AppendUint32(b, v.ArchiveID)
	case GetBlock:
		b = binary.BigEndian.AppendUint32(b, v.FileID)
		b = binary.BigEndian.AppendUint32(b, v.BlockID)
		b = binary.BigEndian.AppendUint32(b, v.ArchiveID)
	case GetBlockAck:
		b = binary.BigEndian.AppendUint32(b, v.FileID)
		b = binary.BigEndian.AppendUint32(b, v.BlockID)
		b = appendBytes(b, v.Payload)
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", common.ErrProtocol, m)
	}
	return b, nil
}

// reader consumes big-endian fields and remembers the first short read.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("%w: truncated message", common.ErrProtocol)
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(r.buf)) {
		r.err = fmt.Errorf("%w: field length %d exceeds message", common.ErrProtocol, n)
		return nil
	}
	out := make([]byte, n)
	copy(out, r.take(int(n)))
	return out
}

func (r *reader) done() error {
	if r.err == nil && len(r.buf) != 0 {
		r.err = fmt.Errorf("%w: %d trailing bytes", common.ErrProtocol, len(r.buf))
	}
	return r.err
}

// Decode parses a frame payload. Unknown tags, short fields and trailing
// bytes are reported as common.ErrProtocol.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty frame", common.ErrProtocol)
	}
	r := &reader{buf: payload[1:]}

	var m Message
	switch Kind(payload[0]) {
	case KindHello:
		m = Hello{
			Version:       r.u8(),
			ArchiveID:     r.u32(),
			ArchivePass:   r.u32(),
			CreateArchive: r.u8() != 0,
			Message:       string(r.bytes()),
		}
	case KindHelloAck:
		m = HelloAck{
			Version:   r.u8(),
			Error:     HelloError(r.u16()),
			ArchiveID: r.u32(),
			Message:   string(r.bytes()),
		}
	case KindBye:
		m = Bye{Version: r.u8(), Error: r.u16()}
	case KindPutBlock:
		m = PutBlock{FileID: r.u32(), BlockID: r.u32(), Payload: r.bytes()}
	case KindPutBlockAck:
		m = PutBlockAck{FileID: r.u32(), BlockID: r.u32(), ArchiveID: r.u32()}
	case KindGetBlock:
		m = GetBlock{FileID: r.u32(), BlockID: r.u32(), ArchiveID: r.u32()}
	case KindGetBlockAck:
		m = GetBlockAck{FileID: r.u32(), BlockID: r.u32(), Payload: r.bytes()}
	default:
		return nil, fmt.Errorf("%w: unknown command tag %d", common.ErrProtocol, payload[0])
	}

	if err := r.done(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Kind(payload[0]), err)
	}
	return m, nil
}
