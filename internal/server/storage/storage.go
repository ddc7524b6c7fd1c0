// Package storage holds sealed block payloads. The registry only records
// keys; the bytes live in S3, on a local filesystem, or in memory.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns common.ErrorNotFound for an unknown key.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewStorageKey returns a fresh object key under the archive's prefix.
func NewStorageKey(archiveID uint32) string {
	d := time.Now().UTC()
	return fmt.Sprintf("archives/%d/%d/%02d/%02d/%v", archiveID, d.Year(), d.Month(), d.Day(), uuid.New())
}
