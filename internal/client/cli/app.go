package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/blocksync/internal/client/client"
	"github.com/dmitrijs2005/blocksync/internal/client/config"
	"github.com/dmitrijs2005/blocksync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/blocksync/internal/client/services"
	"github.com/dmitrijs2005/blocksync/internal/covering"
	"github.com/dmitrijs2005/blocksync/internal/ledger"
	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/netx"

	_ "modernc.org/sqlite"
)

type App struct {
	config *config.Config
	db     *sql.DB
	keys   *services.KeyService
	sync   *services.SyncService
	log    logging.Logger
	out    io.Writer
}

// NewApp opens the state database and prepares the services. The block
// store is dialed per command.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	level := slog.LevelWarn
	if c.Verbose {
		level = slog.LevelDebug
	}
	log := logging.NewJSONLogger(os.Stderr, level)

	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return netx.Dial(ctx, c.ServerEndpointAddr, c.DialTimeout)
	}
	return newApp(ctx, c, dial, log, os.Stdout)
}

func newApp(ctx context.Context, c *config.Config, dial services.Dialer, log logging.Logger, out io.Writer) (*App, error) {
	db, err := client.InitDatabase(ctx, c.StateDB)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	engine, err := covering.NewEngine(c.BlockLength, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	l := ledger.New(metadata.NewSQLiteRepository(db), 0, log)
	return &App{
		config: c,
		db:     db,
		keys:   services.NewKeyService(l),
		sync:   services.NewSyncService(l, engine, c, dial, log),
		log:    log,
		out:    out,
	}, nil
}

func (a *App) Close() error {
	return a.db.Close()
}
