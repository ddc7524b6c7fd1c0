// Package server initializes and runs the block store: it chooses the
// archive registry and the object store from configuration, handles
// graceful shutdown, and starts the transfer endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/blocksync/internal/logging"
	"github.com/dmitrijs2005/blocksync/internal/server/config"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/blocksync/internal/server/services"
	"github.com/dmitrijs2005/blocksync/internal/server/storage"
	"github.com/dmitrijs2005/blocksync/internal/server/transfer"
)

type App struct {
	config         *config.Config
	logger         logging.Logger
	db             *sql.DB
	archiveService *services.ArchiveService
	blockService   *services.BlockService
}

// NewApp opens the registry and the object store. Without a DSN the
// registry lives in memory; without a bucket blocks go to DataDir.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewJSONLogger(os.Stdout, level)

	var (
		db *sql.DB
		rm repomanager.RepositoryManager
	)
	if c.DatabaseDSN != "" {
		var err error
		db, err = repomanager.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		rm = repomanager.NewPostgresRepositoryManager()
		if err := rm.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	} else {
		logger.Warn(ctx, "no database configured, archive registry is kept in memory")
		rm = repomanager.NewMemoryRepositoryManager()
	}

	store, err := newStore(ctx, c)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	return &App{
		config:         c,
		logger:         logger,
		db:             db,
		archiveService: services.NewArchiveService(db, rm),
		blockService:   services.NewBlockService(db, rm, store, logger),
	}, nil
}

func newStore(ctx context.Context, c *config.Config) (storage.Store, error) {
	if c.S3Bucket == "" {
		return storage.NewFSStore(c.DataDir)
	}
	return storage.NewS3Store(ctx, storage.S3Config{
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startTransferServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := transfer.NewServer(app.config.EndpointAddr, app.logger, app.archiveService, app.blockService, app.config.MaxFrameSize)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until a termination signal arrives or ctx is cancelled.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startTransferServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close", "error", err)
		}
	}
	app.logger.Info(ctx, "stopped")
}
