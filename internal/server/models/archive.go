// Package models defines server-side records persisted in the registry.
// Block payloads themselves live in object storage under StorageKey.
package models

import "time"

// Archive is one client's namespace of blocks.
type Archive struct {
	ID uint32
	// Pass is the archive pass presented in Hello. It is derived from the
	// client's key and never reveals it.
	Pass uint32
	// LastRemoteID is the highest remote id handed out so far.
	LastRemoteID uint32
	CreatedAt    time.Time
}

// StoredBlock maps a remote id to the object holding its sealed payload.
type StoredBlock struct {
	ArchiveID  uint32
	RemoteID   uint32
	StorageKey string
	Size       int
	CreatedAt  time.Time
}

// StoredBlockList is the sealed block list of one file. There is at most
// one per (ArchiveID, FileID); a newer list replaces the older one.
type StoredBlockList struct {
	ArchiveID  uint32
	FileID     uint32
	StorageKey string
	Size       int
	UpdatedAt  time.Time
}
