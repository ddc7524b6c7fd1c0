package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// PassphraseEnv names the environment variable checked before prompting.
const PassphraseEnv = "BLOCKSYNC_PASSPHRASE"

var ErrEmptyPassphrase = errors.New("empty passphrase")

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// getPassphrase is an indirection so tests can skip the terminal entirely.
var getPassphrase = GetPassphrase

// GetPassphrase returns $BLOCKSYNC_PASSPHRASE when set, otherwise prompts on
// w and reads the passphrase from the terminal without echo.
//
// The returned slice should be wiped by the caller when no longer needed.
func GetPassphrase(w io.Writer) ([]byte, error) {
	if v := os.Getenv(PassphraseEnv); v != "" {
		return []byte(v), nil
	}

	if _, err := fmt.Fprint(w, "Enter passphrase: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, ErrEmptyPassphrase
	}
	return pw, nil
}
