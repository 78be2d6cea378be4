package envelope

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("hello, world"),
		bytes.Repeat([]byte{0xAB}, 1<<16),
	}

	for _, p := range plaintexts {
		blob, err := Seal(p, key)
		if err != nil {
			t.Fatalf("Seal(%d bytes): %v", len(p), err)
		}
		got, err := Open(blob, key)
		if err != nil {
			t.Fatalf("Open(%d bytes): %v", len(p), err)
		}
		if !bytes.Equal(got, p) {
			t.Errorf("round trip mismatch for %d-byte plaintext", len(p))
		}
	}
}

func TestOpen_WrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()

	blob, err := Seal([]byte("secret document"), k1)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(blob, k2); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Open with wrong key: got %v, want ErrIntegrity", err)
	}
}

func TestOpen_Tampered(t *testing.T) {
	key, _ := GenerateKey()
	blob, err := Seal([]byte("secret document"), key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Flip one bit in every position class: nonce, body, tag.
	for _, idx := range []int{0, len(blob) / 2, len(blob) - 1} {
		mutated := append([]byte(nil), blob...)
		mutated[idx] ^= 0x01
		if _, err := Open(mutated, key); !errors.Is(err, ErrIntegrity) {
			t.Errorf("Open with byte %d flipped: got %v, want ErrIntegrity", idx, err)
		}
	}
}

func TestOpen_Truncated(t *testing.T) {
	key, _ := GenerateKey()
	if _, err := Open([]byte("short"), key); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Open of truncated blob: got %v, want ErrIntegrity", err)
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	if bytes.Equal(k1, k2) {
		t.Error("two generated keys are identical")
	}
	if len(k1) != KeySize {
		t.Errorf("key length = %d, want %d", len(k1), KeySize)
	}
}

func TestSeal_NonceNotReused(t *testing.T) {
	key, _ := GenerateKey()
	b1, _ := Seal([]byte("same plaintext"), key)
	b2, _ := Seal([]byte("same plaintext"), key)
	if bytes.Equal(b1, b2) {
		t.Error("sealing the same plaintext twice produced identical blobs")
	}
}

func TestKeyEncoding(t *testing.T) {
	key, _ := GenerateKey()

	enc := EncodeKey(key)
	if len(enc) != 44 { // base64 of 32 bytes is fixed width
		t.Errorf("encoded key width = %d, want 44", len(enc))
	}

	dec, err := DecodeKey(enc)
	if err != nil {
		t.Fatalf("DecodeKey: %v", err)
	}
	if !bytes.Equal(dec, key) {
		t.Error("decoded key differs from original")
	}

	if _, err := DecodeKey("not base64!!"); err == nil {
		t.Error("DecodeKey accepted invalid input")
	}
	if _, err := DecodeKey("AAAA"); err == nil {
		t.Error("DecodeKey accepted a short key")
	}
}

func TestSeal_BadKeyLength(t *testing.T) {
	if _, err := Seal([]byte("x"), Key("too short")); err == nil {
		t.Error("Seal accepted a short key")
	}
	if _, err := Open([]byte("x"), Key("too short")); err == nil {
		t.Error("Open accepted a short key")
	}
}
