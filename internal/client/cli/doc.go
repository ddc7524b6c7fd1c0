// Package cli provides the blocksync command-line client.
//
// It wires configuration, the local state database, the archive key and a
// connection to the block store, then runs one of the commands:
//
//	archive <path>...             upload changed files under each path
//	extract <dest> [pattern]...   rebuild archived files under dest
//	list                          show archived files
//
// The passphrase is read from $BLOCKSYNC_PASSPHRASE or, when unset, from
// the terminal without echo.
package cli
