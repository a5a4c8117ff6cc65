// Package crypto provides the AES-256-GCM implementation of the migration
// crypto service and an in-memory keyring holding the current and previous
// encryption profiles.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// DecryptFailedError wraps the underlying AEAD failure when a ciphertext
// cannot be opened, typically because it was produced under a different key.
type DecryptFailedError struct {
	Inner error
}

func (e *DecryptFailedError) Error() string {
	return fmt.Sprintf("decrypt failed: %v", e.Inner)
}

func (e *DecryptFailedError) Unwrap() error { return e.Inner }

// aes256 seals and opens values with AES-256-GCM, prepending the nonce to
// the ciphertext.
type aes256 struct {
	aead   cipher.AEAD
	digest []byte
}

func newAES256(key []byte) (*aes256, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(key)
	return &aes256{aead: aead, digest: digest[:]}, nil
}

func (a *aes256) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return a.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (a *aes256) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < a.aead.NonceSize() {
		return nil, &DecryptFailedError{Inner: fmt.Errorf("ciphertext too short")}
	}
	plaintext, err := a.aead.Open(nil, ciphertext[:a.aead.NonceSize()], ciphertext[a.aead.NonceSize():], nil)
	if err != nil {
		return nil, &DecryptFailedError{Inner: err}
	}
	return plaintext, nil
}

// hexDigest identifies the key without exposing material.
func (a *aes256) hexDigest() string { return fmt.Sprintf("%x", a.digest) }
