package security

import (
	"bytes"
	"testing"
)

func TestFixedKeyIgnoresSeed(t *testing.T) {
	key := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	cb := FixedKey(key)

	got, err := cb([]byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("got %x, want %x", got, key)
	}

	got2, err := cb(nil)
	if err != nil {
		t.Fatalf("callback with nil seed: %v", err)
	}
	if !bytes.Equal(got2, key) {
		t.Fatalf("got %x with nil seed, want %x", got2, key)
	}
}

func TestFixedKeyReturnsIndependentCopies(t *testing.T) {
	key := []byte{1, 2, 3}
	cb := FixedKey(key)

	got, _ := cb(nil)
	got[0] = 0xFF

	key2, _ := cb(nil)
	if key2[0] != 1 {
		t.Fatalf("mutating one returned key affected the source key: %x", key2)
	}
}
