// Package compressx wraps zstd for whole-buffer block compression.
package compressx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrLengthMismatch is returned when the decompressed size differs from the
// caller's hint.
var ErrLengthMismatch = errors.New("decompressed length does not match hint")

var (
	initOnce sync.Once
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	initErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	initOnce.Do(func() {
		encoder, initErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if initErr != nil {
			return
		}
		decoder, initErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return encoder, decoder, initErr
}

// Compress returns the zstd frame for data. EncodeAll is safe for concurrent
// use, so a single encoder is shared.
func Compress(data []byte) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, nil), nil
}

// Decompress inflates a frame produced by Compress. hint is the expected
// plaintext length; a negative hint disables the check.
func Decompress(data []byte, hint int) ([]byte, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, err
	}

	var dst []byte
	if hint > 0 {
		dst = make([]byte, 0, hint)
	}
	out, err := dec.DecodeAll(data, dst)
	if err != nil {
		return nil, err
	}
	if hint >= 0 && len(out) != hint {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(out), hint)
	}
	return out, nil
}
