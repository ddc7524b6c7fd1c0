package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/blocksync/internal/client/client"
	"github.com/dmitrijs2005/blocksync/internal/client/config"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/blocksync/internal/server/services"
	"github.com/dmitrijs2005/blocksync/internal/server/storage"
	"github.com/dmitrijs2005/blocksync/internal/server/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPassphrase(t *testing.T, pw string) {
	t.Helper()
	old := getPassphrase
	getPassphrase = func(io.Writer) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { getPassphrase = old })
}

func newTestApp(t *testing.T, stateDB string) (*App, *bytes.Buffer) {
	t.Helper()
	log := logging.NewDiscardLogger()
	rm := repomanager.NewMemoryRepositoryManager()
	srv := transfer.NewServer("", log,
		services.NewArchiveService(nil, rm),
		services.NewBlockService(nil, rm, storage.NewMemoryStore(), log), 0)

	dial := func(context.Context) (io.ReadWriteCloser, error) {
		a, b := net.Pipe()
		go func() { _ = srv.HandleConn(context.Background(), a, log) }()
		return b, nil
	}

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StateDB = stateDB
	cfg.CreateArchive = true

	var out bytes.Buffer
	app, err := newApp(context.Background(), cfg, dial, log, &out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, &out
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRun_Usage(t *testing.T) {
	app, out := newTestApp(t, filepath.Join(t.TempDir(), "state.db"))
	ctx := testCtx(t)

	assert.ErrorIs(t, app.Run(ctx, nil), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"archive"}), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"extract"}), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"frobnicate"}), ErrUsage)

	require.NoError(t, app.Run(ctx, []string{"help"}))
	assert.Contains(t, out.String(), "usage:")
}

func TestRun_ArchiveListExtract(t *testing.T) {
	stubPassphrase(t, "secret")
	app, out := newTestApp(t, filepath.Join(t.TempDir(), "state.db"))
	ctx := testCtx(t)

	src := t.TempDir()
	path := filepath.Join(src, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0o600))

	require.NoError(t, app.Run(ctx, []string{"archive", src}))
	assert.Contains(t, out.String(), "archived 1")

	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"list"}))
	assert.Contains(t, out.String(), path)
	assert.Contains(t, out.String(), "17")

	dest := t.TempDir()
	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"extract", dest}))
	assert.Contains(t, out.String(), "extracted 1")

	got, err := os.ReadFile(filepath.Join(dest, path))
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", string(got))
}

func TestRun_WrongPassphrase(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.db")
	app, _ := newTestApp(t, state)
	ctx := testCtx(t)

	stubPassphrase(t, "first")
	require.NoError(t, app.Run(ctx, []string{"archive", t.TempDir()}))

	stubPassphrase(t, "second")
	err := app.Run(ctx, []string{"archive", t.TempDir()})
	assert.ErrorIs(t, err, client.ErrUnauthorized)
}
