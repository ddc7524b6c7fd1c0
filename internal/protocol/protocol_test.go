package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/dmitrijs2005/blocksync/internal/checksum"
	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireLayouts(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []byte
	}{
		{
			name: "hello",
			msg:  Hello{Version: 1, ArchiveID: 2, ArchivePass: 0xA0B0C0D0, CreateArchive: true, Message: "hi"},
			want: []byte{0, 1, 0, 0, 0, 2, 0xA0, 0xB0, 0xC0, 0xD0, 1, 0, 0, 0, 2, 'h', 'i'},
		},
		{
			name: "hello ack",
			msg:  HelloAck{Version: 1, Error: HelloErrBadPass, ArchiveID: 7},
			want: []byte{1, 1, 0, 1, 0, 0, 0, 7, 0, 0, 0, 0},
		},
		{
			name: "bye",
			msg:  Bye{Version: 1, Error: 3},
			want: []byte{2, 1, 0, 3},
		},
		{
			name: "put block",
			msg:  PutBlock{FileID: 1, BlockID: 2, Payload: []byte{9, 9}},
			want: []byte{3, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 2, 9, 9},
		},
		{
			name: "put block ack",
			msg:  PutBlockAck{FileID: 1, BlockID: 0, ArchiveID: 0},
			want: []byte{4, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "get block",
			msg:  GetBlock{FileID: 5, BlockID: 6, ArchiveID: 0x01020304},
			want: []byte{5, 0, 0, 0, 5, 0, 0, 0, 6, 1, 2, 3, 4},
		},
		{
			name: "get block ack, not found",
			msg:  GetBlockAck{FileID: 5, BlockID: 6},
			want: []byte{6, 0, 0, 0, 5, 0, 0, 0, 6, 0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := Decode(got)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Kind(), back.Kind())
			reenc, err := Encode(back)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reenc)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{7}},
		{"truncated bye", []byte{2, 1}},
		{"trailing bytes", []byte{2, 1, 0, 0, 0xFF}},
		{"string longer than frame", []byte{3, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 1, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			assert.ErrorIs(t, err, common.ErrProtocol)
		})
	}
}

func TestFrames_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msgs := []Message{
		Hello{Version: Version, ArchiveID: 1, ArchivePass: 2, Message: "client"},
		PutBlock{FileID: 3, BlockID: 1, Payload: bytes.Repeat([]byte{0xAB}, 5000)},
		GetBlockAck{FileID: 3, BlockID: 1, Payload: []byte{}},
		Bye{Version: Version},
	}
	for _, m := range msgs {
		_, err := WriteFrame(&buf, m)
		require.NoError(t, err)
	}

	fr := NewFrameReader(&buf, 0)
	for _, want := range msgs {
		got, err := fr.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := fr.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameReader_Errors(t *testing.T) {
	t.Run("oversized", func(t *testing.T) {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], 1000)
		_, err := NewFrameReader(bytes.NewReader(hdr[:]), 100).ReadMessage()
		assert.ErrorIs(t, err, common.ErrProtocol)
	})

	t.Run("zero length", func(t *testing.T) {
		_, err := NewFrameReader(bytes.NewReader([]byte{0, 0, 0, 0}), 0).ReadMessage()
		assert.ErrorIs(t, err, common.ErrProtocol)
	})

	t.Run("cut mid frame", func(t *testing.T) {
		_, err := NewFrameReader(bytes.NewReader([]byte{0, 0, 0, 9, 2, 1}), 0).ReadMessage()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, err := NewFrameReader(bytes.NewReader([]byte{0, 0, 0, 1, 42}), 0).ReadMessage()
		assert.ErrorIs(t, err, common.ErrProtocol)
	})
}

func TestMaxPutPayload_FillsFrame(t *testing.T) {
	const limit = 512
	n := MaxPutPayload(limit)

	var buf bytes.Buffer
	_, err := WriteFrame(&buf, PutBlock{FileID: 1, BlockID: 2, Payload: make([]byte, n)})
	require.NoError(t, err)
	m, err := NewFrameReader(&buf, limit).ReadMessage()
	require.NoError(t, err)
	assert.Len(t, m.(PutBlock).Payload, n)

	buf.Reset()
	_, err = WriteFrame(&buf, PutBlock{FileID: 1, BlockID: 2, Payload: make([]byte, n+1)})
	require.NoError(t, err)
	_, err = NewFrameReader(&buf, limit).ReadMessage()
	assert.ErrorIs(t, err, common.ErrProtocol)

	assert.Equal(t, DefaultMaxFrameSize-13, MaxPutPayload(0))
}

func TestBlockListSize(t *testing.T) {
	assert.Equal(t, 4, BlockListSize(0))
	assert.Equal(t, 4+3*39, BlockListSize(3))

	assert.Zero(t, BlockListCapacity(3))
	assert.Zero(t, BlockListCapacity(4+38))
	assert.Equal(t, 1, BlockListCapacity(4+39))
	assert.Equal(t, 3, BlockListCapacity(BlockListSize(3)+38))

	data, err := EncodeBlockList([]models.Block{{Offset: 0, Length: 10}, {Offset: 10, Length: 5}})
	require.NoError(t, err)
	assert.Len(t, data, BlockListSize(2))
}

func TestBlockList_RoundTrip(t *testing.T) {
	blocks := []models.Block{
		{LocalID: 1, RemoteID: 10, Offset: 0, Length: 1024, Weak: 0x11223344, Strong: checksum.Strong([]byte("a"))},
		{LocalID: 0, RemoteID: 11, Offset: 1024, Length: 1, Weak: 5, Strong: checksum.Strong([]byte("b"))},
		{LocalID: 3, RemoteID: 12, Offset: 1 << 31, Length: 65535},
	}

	data, err := EncodeBlockList(blocks)
	require.NoError(t, err)
	assert.Len(t, data, 4+3*blockRecordSize)
	assert.Equal(t, []byte{0, 0, 0, 3}, data[:4])
	assert.Equal(t, BlockListVersion, data[8], "version follows local id")

	back, err := DecodeBlockList(data)
	require.NoError(t, err)
	assert.Equal(t, blocks, back)
}

func TestBlockList_Empty(t *testing.T) {
	data, err := EncodeBlockList(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)

	back, err := DecodeBlockList(data)
	require.NoError(t, err)
	assert.Empty(t, back)
}

func TestBlockList_Errors(t *testing.T) {
	_, err := EncodeBlockList([]models.Block{{Offset: 1 << 33, Length: 1}})
	assert.Error(t, err)
	_, err = EncodeBlockList([]models.Block{{Offset: 0, Length: 70000}})
	assert.Error(t, err)

	good, err := EncodeBlockList([]models.Block{{RemoteID: 1, Length: 4}})
	require.NoError(t, err)

	_, err = DecodeBlockList(good[:len(good)-1])
	assert.ErrorIs(t, err, common.ErrProtocol)

	_, err = DecodeBlockList([]byte{0, 0})
	assert.ErrorIs(t, err, common.ErrProtocol)

	bad := append([]byte{}, good...)
	bad[8] = 9
	_, err = DecodeBlockList(bad)
	assert.ErrorIs(t, err, common.ErrProtocol)
}
