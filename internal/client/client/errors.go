package client

import "errors"

var (
	// ErrUnauthorized means the passphrase does not match this state database.
	ErrUnauthorized = errors.New("wrong passphrase")
	// ErrNoArchive means no archive id is configured or remembered and
	// creating one was not requested.
	ErrNoArchive = errors.New("no archive configured")
)
