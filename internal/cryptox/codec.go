package cryptox

import (
	"fmt"

	"github.com/dmitrijs2005/blocksync/internal/compressx"
)

// Codec turns block plaintext into the opaque payload stored remotely and
// back. Seal compresses before encrypting; Open decrypts then decompresses,
// using hint as the expected plaintext length.
type Codec interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte, hint int) ([]byte, error)
}

// BlockCodec is the production Codec: zstd followed by AES-256-GCM.
type BlockCodec struct {
	key []byte
}

func NewBlockCodec(key []byte) (*BlockCodec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptox: key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &BlockCodec{key: k}, nil
}

func (c *BlockCodec) Seal(plain []byte) ([]byte, error) {
	z, err := compressx.Compress(plain)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return Encrypt(c.key, z)
}

func (c *BlockCodec) Open(sealed []byte, hint int) ([]byte, error) {
	z, err := Decrypt(c.key, sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	plain, err := compressx.Decompress(z, hint)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return plain, nil
}
