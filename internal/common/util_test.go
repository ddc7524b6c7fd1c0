package common

import "testing"

// ---------- WipeByteArray ----------

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
}

func TestWipeByteArray_NilSafe(t *testing.T) {
	WipeByteArray(nil)
}

// ---------- GenerateRandByteArray ----------

func TestGenerateRandByteArray_Basic(t *testing.T) {
	const n = 24
	buf := GenerateRandByteArray(n)
	if buf == nil {
		t.Fatalf("expected non-nil slice")
	}
	if len(buf) != n {
		t.Fatalf("expected length %d, got %d", n, len(buf))
	}
}

func TestGenerateRandByteArray_EntropyHint(t *testing.T) {
	const n = 32
	a := GenerateRandByteArray(n)
	b := GenerateRandByteArray(n)

	if len(a) != n || len(b) != n {
		t.Fatalf("unexpected lengths: %d, %d", len(a), len(b))
	}

	identical := true
	for i := range a {
		if a[i] != b[i] {
			identical = false
			break
		}
	}
	if identical {
		t.Logf("warning: two GenerateRandByteArray(%d) results are identical; extremely unlikely", n)
	}
}

// ---------- sentinel errors ----------

func TestSentinelErrors_AreDistinct(t *testing.T) {
	all := []error{ErrorNotFound, ErrIO, ErrChecksumMismatch, ErrProtocol, ErrAuth, ErrInvalidBlockLength}
	for i := range all {
		for j := range all {
			if i != j && all[i] == all[j] {
				t.Fatalf("errors %d and %d are the same value", i, j)
			}
		}
	}
}

func TestWipeByteArray_KeyMaterial(t *testing.T) {
	key := GenerateRandByteArray(32)
	WipeByteArray(key)
	if len(key) != 32 {
		t.Fatalf("wipe must not change length, got %d", len(key))
	}
	for _, v := range key {
		if v != 0 {
			t.Fatal("key not wiped")
		}
	}
}
