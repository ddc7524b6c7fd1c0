// Package checksum implements the two checksums every matching decision is
// based on: a cheap 32-bit rolling sum over 4-byte words, and a 160-bit
// strong digest used to confirm rolling-sum candidates.
package checksum

import "encoding/binary"

// WordSize is the step the rolling window advances by.
const WordSize = 4

// Word reads the big-endian word at the start of b.
func Word(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// Rolling computes the rolling checksum of window. Words are big-endian;
// s1 is the plain sum of the words and s2 weights word i by (N - i), N being
// the number of words. Both are kept modulo 2^16 and packed as s2<<16 | s1.
//
// A trailing partial word is treated as zero-padded, which is what callers
// need at end of file.
func Rolling(window []byte) uint32 {
	n := (len(window) + WordSize - 1) / WordSize

	var s1, s2 uint32
	for i := 0; i < n; i++ {
		w := wordAt(window, i*WordSize)
		s1 += w
		s2 += uint32(n-i) * w
	}
	return pack(s1, s2)
}

// RollingUpdate slides the window forward by one word: oldWord leaves at the
// front and newWord enters at the back. windowWords is the window length in
// words. The result equals Rolling over the shifted window.
func RollingUpdate(oldWord, newWord, oldSum uint32, windowWords int) uint32 {
	s1 := oldSum & 0xFFFF
	s2 := oldSum >> 16

	s1 = s1 - oldWord + newWord
	s2 = s2 - uint32(windowWords)*oldWord + s1
	return pack(s1, s2)
}

func pack(s1, s2 uint32) uint32 {
	return (s2&0xFFFF)<<16 | (s1 & 0xFFFF)
}

func wordAt(b []byte, off int) uint32 {
	if off+WordSize <= len(b) {
		return binary.BigEndian.Uint32(b[off:])
	}
	var tmp [WordSize]byte
	copy(tmp[:], b[off:])
	return binary.BigEndian.Uint32(tmp[:])
}
