package checksum

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// DigestSize is the strong digest length in bytes.
const DigestSize = sha1.Size

// Digest is a strong checksum over an exact byte range.
type Digest [DigestSize]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Strong digests b.
func Strong(b []byte) Digest {
	return sha1.Sum(b)
}

// NewStrong returns a streaming hasher producing the same digest as Strong.
func NewStrong() hash.Hash {
	return sha1.New()
}

// Sum finalizes h into a Digest.
func Sum(h hash.Hash) Digest {
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// StrongReader digests everything r yields.
func StrongReader(r io.Reader) (Digest, error) {
	h := NewStrong()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return Sum(h), nil
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != DigestSize {
		return fmt.Errorf("digest: want %d hex chars, got %d", 2*DigestSize, len(text))
	}
	_, err := hex.Decode(d[:], text)
	return err
}
