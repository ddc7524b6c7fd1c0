package syncer

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/covering"
	"github.com/dmitrijs2005/blocksync/internal/cryptox"
	"github.com/dmitrijs2005/blocksync/internal/filex"
	"github.com/dmitrijs2005/blocksync/internal/kv"
	"github.com/dmitrijs2005/blocksync/internal/ledger"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/protocol"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/blocksync/internal/server/services"
	"github.com/dmitrijs2005/blocksync/internal/server/storage"
	"github.com/dmitrijs2005/blocksync/internal/server/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t      *testing.T
	server *transfer.Server
	ledger *ledger.Ledger
	codec  cryptox.Codec
	engine *covering.Engine
	pass   uint32
	cfg    Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithFrameLimit(t, 0)
}

// newHarnessWithFrameLimit runs both peers with the same frame limit.
func newHarnessWithFrameLimit(t *testing.T, maxFrameSize uint32) *harness {
	t.Helper()
	log := logging.NewDiscardLogger()
	rm := repomanager.NewMemoryRepositoryManager()
	srv := transfer.NewServer("", log,
		services.NewArchiveService(nil, rm),
		services.NewBlockService(nil, rm, storage.NewMemoryStore(), log), maxFrameSize)

	key := bytes.Repeat([]byte{7}, cryptox.KeySize)
	codec, err := cryptox.NewBlockCodec(key)
	require.NoError(t, err)
	engine, err := covering.NewEngine(covering.DefaultBlockLength, log)
	require.NoError(t, err)

	return &harness{
		t:      t,
		server: srv,
		ledger: ledger.New(kv.NewMemoryStore(), 0, log),
		codec:  codec,
		engine: engine,
		pass:   cryptox.ArchivePass(key),
		cfg:    Config{MaxFrameSize: maxFrameSize},
	}
}

func (h *harness) session() *Session {
	h.t.Helper()
	srvConn, cliConn := net.Pipe()
	go func() {
		_ = h.server.HandleConn(context.Background(), srvConn, logging.NewDiscardLogger())
	}()
	s := NewSession(cliConn, h.ledger, h.codec, h.engine, h.cfg, logging.NewDiscardLogger())
	h.t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func randomBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o640))
	}
}

func assertExtracted(t *testing.T, dest, src string, files map[string][]byte) {
	t.Helper()
	for name, want := range files {
		got, err := os.ReadFile(filex.UnderRoot(dest, filepath.Join(src, name)))
		require.NoError(t, err, name)
		assert.True(t, bytes.Equal(want, got), "%s differs", name)
	}
}

func TestSession_ArchiveExtractRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	src := t.TempDir()
	files := map[string][]byte{
		"a.txt":       randomBytes(1, 3000),
		"sub/b.bin":   randomBytes(2, 10*1024+7),
		"sub/empty":   {},
		"tiny":        []byte("x"),
		"exact.block": randomBytes(3, covering.DefaultBlockLength),
	}
	writeTree(t, src, files)

	s := h.session()
	archiveID, err := s.Hello(ctx, 0, h.pass, true)
	require.NoError(t, err)
	require.NotZero(t, archiveID)

	stats, err := s.Archive(ctx, []string{src})
	require.NoError(t, err)
	assert.Equal(t, len(files), stats.Archived)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 3+11+0+1+1, stats.BlocksUploaded)

	s = h.session()
	_, err = s.Hello(ctx, archiveID, h.pass, false)
	require.NoError(t, err)
	stats, err = s.Archive(ctx, []string{src})
	require.NoError(t, err)
	assert.Zero(t, stats.Archived)
	assert.Equal(t, len(files), stats.Unchanged)

	dest := t.TempDir()
	s = h.session()
	_, err = s.Hello(ctx, archiveID, h.pass, false)
	require.NoError(t, err)
	stats, err = s.Extract(ctx, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, len(files), stats.Extracted)
	assert.Zero(t, stats.Incomplete)
	assertExtracted(t, dest, src, files)

	info, err := os.Stat(filex.UnderRoot(dest, filepath.Join(src, "a.txt")))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestSession_IncrementalArchiveReusesBlocks(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	src := t.TempDir()
	orig := randomBytes(4, 8*1024)
	writeTree(t, src, map[string][]byte{"f": orig})

	s := h.session()
	archiveID, err := s.Hello(ctx, 0, h.pass, true)
	require.NoError(t, err)
	_, err = s.Archive(ctx, []string{src})
	require.NoError(t, err)

	changed := append(append(append([]byte{}, orig[:500]...), 'Z'), orig[500:]...)
	writeTree(t, src, map[string][]byte{"f": changed})

	s = h.session()
	_, err = s.Hello(ctx, archiveID, h.pass, false)
	require.NoError(t, err)
	stats, err := s.Archive(ctx, []string{src})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 7, stats.BlocksReused)
	assert.LessOrEqual(t, stats.BlocksUploaded, 2)

	dest := t.TempDir()
	s = h.session()
	_, err = s.Hello(ctx, archiveID, h.pass, false)
	require.NoError(t, err)
	stats, err = s.Extract(ctx, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Extracted)
	assertExtracted(t, dest, src, map[string][]byte{"f": changed})
}

func TestSession_BackpressureWithManyFiles(t *testing.T) {
	h := newHarness(t)
	h.cfg = Config{DesiredQueueSize: 1500, MaxTickets: 2}
	ctx := testCtx(t)

	src := t.TempDir()
	files := map[string][]byte{}
	for i := 0; i < 12; i++ {
		files[filepath.Join("d", string(rune('a'+i)))] = randomBytes(int64(10+i), 1000+i*700)
	}
	writeTree(t, src, files)

	s := h.session()
	archiveID, err := s.Hello(ctx, 0, h.pass, true)
	require.NoError(t, err)
	stats, err := s.Archive(ctx, []string{src})
	require.NoError(t, err)
	assert.Equal(t, len(files), stats.Archived)
	assert.False(t, s.QueueFull())
	assert.Zero(t, s.CheckForOrphanWork(ctx))

	dest := t.TempDir()
	s = h.session()
	_, err = s.Hello(ctx, archiveID, h.pass, false)
	require.NoError(t, err)
	stats, err = s.Extract(ctx, dest, func(path string) bool { return filepath.Base(path) < "g" })
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Extracted)
	for name, data := range files {
		if filepath.Base(name) < "g" {
			assertExtracted(t, dest, src, map[string][]byte{name: data})
		}
	}
}

func TestSession_HelloBadPass(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	s := h.session()
	archiveID, err := s.Hello(ctx, 0, h.pass, true)
	require.NoError(t, err)
	_, err = s.Archive(ctx, nil)
	require.NoError(t, err)

	s = h.session()
	_, err = s.Hello(ctx, archiveID, h.pass+1, false)
	assert.ErrorIs(t, err, common.ErrAuth)

	s = h.session()
	_, err = s.Hello(ctx, archiveID+5, h.pass, false)
	assert.ErrorIs(t, err, common.ErrAuth)
}

func TestSession_ExtractWithWrongKeyIsIncomplete(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"f": randomBytes(5, 2048)})

	s := h.session()
	archiveID, err := s.Hello(ctx, 0, h.pass, true)
	require.NoError(t, err)
	_, err = s.Archive(ctx, []string{src})
	require.NoError(t, err)

	other, err := cryptox.NewBlockCodec(bytes.Repeat([]byte{9}, cryptox.KeySize))
	require.NoError(t, err)
	h.codec = other

	s = h.session()
	_, err = s.Hello(ctx, archiveID, h.pass, false)
	require.NoError(t, err)
	stats, err := s.Extract(ctx, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Incomplete)
	assert.Len(t, stats.IncompleteFiles, 1)
}

// peerBye answers Hello and then says Bye to the first request.
func peerBye(conn net.Conn) {
	fr := protocol.NewFrameReader(conn, 0)
	if _, err := fr.ReadMessage(); err != nil {
		return
	}
	_, _ = protocol.WriteFrame(conn, protocol.HelloAck{Version: protocol.Version, ArchiveID: 1})
	if _, err := fr.ReadMessage(); err != nil {
		return
	}
	_, _ = protocol.WriteFrame(conn, protocol.Bye{Version: protocol.Version, Error: 1})
	_ = conn.Close()
}

func TestSession_PeerByeMidSessionOrphansWork(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"f": randomBytes(6, 100)})

	srvConn, cliConn := net.Pipe()
	go peerBye(srvConn)
	s := NewSession(cliConn, h.ledger, h.codec, h.engine, Config{}, logging.NewDiscardLogger())
	defer s.Close()

	_, err := s.Hello(ctx, 1, h.pass, false)
	require.NoError(t, err)
	_, err = s.Archive(ctx, []string{src})
	assert.ErrorIs(t, err, ErrPeerClosed)

	fid, ok, err := h.ledger.FileID(ctx, filepath.Join(src, "f"))
	require.NoError(t, err)
	require.True(t, ok)
	sum, err := h.ledger.ForArchive(1).Summary(ctx, fid)
	require.NoError(t, err)
	assert.Nil(t, sum, "interrupted file has no summary")
}

func TestSession_SecondArchiveFromSameStateUploadsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	src := t.TempDir()
	files := map[string][]byte{"a.txt": randomBytes(7, 3000)}
	writeTree(t, src, files)

	s := h.session()
	first, err := s.Hello(ctx, 0, h.pass, true)
	require.NoError(t, err)
	stats, err := s.Archive(ctx, []string{src})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Archived)

	s = h.session()
	second, err := s.Hello(ctx, 0, h.pass, true)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	stats, err = s.Archive(ctx, []string{src})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived, "a new archive has no summaries yet")
	assert.Zero(t, stats.Unchanged)
	assert.Equal(t, 3, stats.BlocksUploaded)

	dest := t.TempDir()
	s = h.session()
	_, err = s.Hello(ctx, second, h.pass, false)
	require.NoError(t, err)
	stats, err = s.Extract(ctx, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Extracted)
	assert.Zero(t, stats.Incomplete)
	assertExtracted(t, dest, src, files)

	sums, err := h.ledger.ForArchive(first).Summaries(ctx)
	require.NoError(t, err)
	assert.Len(t, sums, 1, "first archive keeps its own summary")
}

func TestSession_FileOverFrameLimitIsSkipped(t *testing.T) {
	h := newHarnessWithFrameLimit(t, 8192)
	ctx := testCtx(t)

	src := t.TempDir()
	writeTree(t, src, map[string][]byte{
		"big.bin": randomBytes(11, 300*1024),
		"small":   []byte("hello"),
	})

	s := h.session()
	archiveID, err := s.Hello(ctx, 0, h.pass, true)
	require.NoError(t, err)
	stats, err := s.Archive(ctx, []string{src})
	require.NoError(t, err, "session survives the oversized file")
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Failed)

	dest := t.TempDir()
	s = h.session()
	_, err = s.Hello(ctx, archiveID, h.pass, false)
	require.NoError(t, err)
	stats, err = s.Extract(ctx, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Extracted)
	assertExtracted(t, dest, src, map[string][]byte{"small": []byte("hello")})
}
