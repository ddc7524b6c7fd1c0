// Package cryptox holds the key material and AEAD primitives used to keep
// archive contents opaque to the server.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/dmitrijs2005/blocksync/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	KeySize  = 32
	SaltSize = 16
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// DeriveMasterKey stretches a passphrase into a 256-bit archive key.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// MakeVerifier returns a digest of the key that can be stored or sent
// without revealing the key itself.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// ArchivePass is the 32-bit credential presented in Hello. It is the first
// four bytes of the verifier, read big-endian.
func ArchivePass(masterKey []byte) uint32 {
	return binary.BigEndian.Uint32(MakeVerifier(masterKey)[:4])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-GCM. A fresh random nonce is generated
// and prepended to the result.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	out := make([]byte, 0, len(nonce)+len(plaintext)+aesgcm.Overhead())
	out = append(out, nonce...)
	return aesgcm.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Tampered input fails authentication.
func Decrypt(key, sealed []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ns := aesgcm.NonceSize()
	if len(sealed) < ns+aesgcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return aesgcm.Open(nil, sealed[:ns], sealed[ns:], nil)
}
