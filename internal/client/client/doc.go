// Package client bootstraps the client's local state: the SQLite database
// holding the block ledger, and the sentinel errors the CLI reports.
package client
