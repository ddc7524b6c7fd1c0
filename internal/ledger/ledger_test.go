package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/checksum"
	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/kv"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) (*Ledger, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	return New(store, 1, logging.NewDiscardLogger()), store
}

func TestAdd_AssignsMonotonicLocalIDs(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	a := &models.Block{RemoteID: 9, Offset: 0, Length: 1024}
	b := &models.Block{RemoteID: 10, Offset: 1024, Length: 1024}
	require.NoError(t, l.Add(ctx, a))
	require.NoError(t, l.Add(ctx, b))

	assert.Equal(t, uint32(1), a.LocalID)
	assert.Equal(t, uint32(2), b.LocalID)
}

func TestAdd_FetchRoundTripWithoutPayload(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	in := &models.Block{
		RemoteID:      77,
		Offset:        4096,
		Length:        1000,
		Weak:          0xDEADBEEF,
		Strong:        checksum.Strong([]byte("x")),
		Data:          []byte("payload"),
		InNewCovering: true,
	}
	require.NoError(t, l.Add(ctx, in))

	got, err := l.Fetch(ctx, in.LocalID)
	require.NoError(t, err)
	assert.Equal(t, in.LocalID, got.LocalID)
	assert.Equal(t, in.RemoteID, got.RemoteID)
	assert.Equal(t, in.Offset, got.Offset)
	assert.Equal(t, in.Length, got.Length)
	assert.Equal(t, in.Weak, got.Weak)
	assert.Equal(t, in.Strong, got.Strong)
	assert.Nil(t, got.Data)
	assert.False(t, got.InNewCovering)
}

func TestAdd_IsIdempotentOnLocalID(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	b := &models.Block{RemoteID: 1, Offset: 0, Length: 8}
	require.NoError(t, l.Add(ctx, b))
	id := b.LocalID

	b.Offset = 16
	require.NoError(t, l.Add(ctx, b))
	assert.Equal(t, id, b.LocalID)

	got, err := l.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(16), got.Offset)

	all, err := store.List(ctx, NamespaceBlocks+":1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFetch_Missing(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.Fetch(context.Background(), 42)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFileIDs_AreStable(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, ok, err := l.FileID(ctx, "/data/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := l.EnsureFileID(ctx, "/data/a.txt")
	require.NoError(t, err)
	b, err := l.EnsureFileID(ctx, "/data/b.txt")
	require.NoError(t, err)
	again, err := l.EnsureFileID(ctx, "/data/a.txt")
	require.NoError(t, err)

	assert.Equal(t, uint32(1), a)
	assert.Equal(t, uint32(2), b)
	assert.Equal(t, a, again)

	p, err := l.Path(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "/data/b.txt", p)

	_, err = l.Path(ctx, 99)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSummaries(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	s, err := l.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, s)

	mt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, id := range []uint32{3, 1, 2} {
		require.NoError(t, l.PutSummary(ctx, models.Summary{
			FileID:     id,
			ModTime:    mt,
			FileLength: int64(id) * 100,
			FileDigest: checksum.Strong([]byte{byte(id)}),
		}))
	}

	s, err = l.Summary(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(200), s.FileLength)
	assert.True(t, s.ModTime.Equal(mt))

	require.NoError(t, l.PutSummary(ctx, models.Summary{FileID: 2, FileLength: 5}))
	s, err = l.Summary(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.FileLength, "newest summary wins")

	require.NoError(t, store.Put(ctx, NamespaceSummaries+":1", "9", []byte("{broken")))

	all, err := l.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{all[0].FileID, all[1].FileID, all[2].FileID})
}

func TestMetadata(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	v, err := l.Metadata(ctx, "salt")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, l.SetMetadata(ctx, "salt", []byte{1, 2, 3}))
	v, err = l.Metadata(ctx, "salt")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v)
}

func TestForArchive_SeparatesBlocksAndSummaries(t *testing.T) {
	a, _ := newLedger(t)
	b := a.ForArchive(2)
	ctx := context.Background()
	assert.Equal(t, uint32(2), b.ArchiveID())

	fid, err := a.EnsureFileID(ctx, "/data/x")
	require.NoError(t, err)
	require.NoError(t, a.PutSummary(ctx, models.Summary{FileID: fid, FileLength: 10}))

	blk := &models.Block{RemoteID: 5, Length: 10}
	require.NoError(t, a.Add(ctx, blk))

	s, err := b.Summary(ctx, fid)
	require.NoError(t, err)
	assert.Nil(t, s, "summary of another archive must not leak")

	all, err := b.Summaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = b.Fetch(ctx, blk.LocalID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	other := &models.Block{RemoteID: 6, Length: 10}
	require.NoError(t, b.Add(ctx, other))
	assert.Equal(t, uint32(1), other.LocalID, "block ids count per archive")

	bfid, err := b.EnsureFileID(ctx, "/data/x")
	require.NoError(t, err)
	assert.Equal(t, fid, bfid, "file ids are shared")
}
