// Package repomanager vends the registry repositories bound to a database
// handle, and runs the registry schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/blocksync/internal/dbx"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/archives"
	"github.com/dmitrijs2005/blocksync/internal/server/repositories/blocks"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Archives(db dbx.DBTX) archives.Repository
	Blocks(db dbx.DBTX) blocks.Repository
}
