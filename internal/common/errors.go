// Package common defines shared constants, sentinel errors and small byte
// helpers used across the client, the server and the sync core. Callers
// should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound = errors.New("not found")

	// Transient I/O failures (short reads, write errors). Logged, never retried.
	ErrIO = errors.New("i/o error")

	// A strong digest did not match the expected value.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Unknown command tag or malformed frame; fatal to the connection.
	ErrProtocol = errors.New("protocol error")

	// The peer rejected the archive id or pass; fatal to the session.
	ErrAuth = errors.New("authentication failed")

	// Validation errors.
	ErrInvalidBlockLength = errors.New("invalid block length")
)
