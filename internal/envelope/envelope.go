// Package envelope implements the per-file encryption envelope: every
// stored file gets its own random data key, and the sealed blob carries
// its nonce so key + ciphertext are enough to recover the plaintext.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrIntegrity is returned by Open when the ciphertext was tampered
// with or sealed under a different key.
var ErrIntegrity = errors.New("envelope: ciphertext integrity check failed")

// Key is a single-file data key. One key per file, never reused.
type Key []byte

// GenerateKey returns a fresh random 256-bit key from crypto/rand.
func GenerateKey() (Key, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("envelope: generate key: %w", err)
	}
	return k, nil
}

// Seal encrypts plaintext under key with AES-256-GCM. The returned
// blob is nonce || ciphertext+tag, self-contained for Open.
func Seal(plaintext []byte, key Key) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("envelope: generate nonce: %w", err)
	}

	// Allocate once: nonce up front, ciphertext appended after it.
	out := make([]byte, len(nonce), len(nonce)+len(plaintext)+aead.Overhead())
	copy(out, nonce)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. A wrong key or a modified
// blob fails with ErrIntegrity, never with garbage plaintext.
func Open(blob []byte, key Key) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < aead.NonceSize() {
		return nil, ErrIntegrity
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// EncodeKey renders a key as fixed-width base64 for storage in the
// file's metadata row.
func EncodeKey(key Key) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses a key previously produced by EncodeKey.
func DecodeKey(s string) (Key, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode key: %w", err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("envelope: decoded key is %d bytes, want %d", len(b), KeySize)
	}
	return b, nil
}

func newAEAD(key Key) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: key is %d bytes, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
