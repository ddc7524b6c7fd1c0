package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/blocksync/internal/dbx"
	"github.com/dmitrijs2005/blocksync/internal/server/migrations"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/archives"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/blocks"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Archives(db dbx.DBTX) archives.Repository {
	return archives.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Blocks(db dbx.DBTX) blocks.Repository {
	return blocks.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded registry migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// OpenPostgres opens dsn with the pgx driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
