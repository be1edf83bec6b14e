// Package crypto provides the cryptographic primitives the kernel builds
// on: at-rest AES-256-GCM wrapping for durable key material (encrypt.go,
// keystore.go, adapted from the teacher unchanged), and the per-record
// envelope-encryption primitives the spec's DEK/sealed-DEK design requires
// (this file and sealedbox.go): XChaCha20-Poly1305 AEAD over 32-byte DEKs
// and 24-byte nonces, X25519 key agreement for sealing those DEKs to a
// recipient's public key, and Ed25519 signing.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// DekSize is the length of a generated data-encryption key (32 bytes).
const DekSize = chacha20poly1305.KeySize

// RecordNonceSize is the length of the AEAD nonce used for record
// ciphertexts (24 bytes, XChaCha20's extended nonce).
const RecordNonceSize = chacha20poly1305.NonceSizeX

var (
	// ErrDecryptFailed covers AEAD tag mismatches and sealed-DEK open
	// failures — the single taxonomy entry §7 calls DecryptFailed.
	ErrDecryptFailed    = errors.New("crypto: decrypt failed")
	ErrInvalidMultibase = errors.New("crypto: invalid multibase string")
	ErrMalformedDID     = errors.New("crypto: malformed did")
)

// GenerateDek returns 32 cryptographically random bytes for use as a
// per-record data encryption key.
func GenerateDek() ([]byte, error) {
	dek := make([]byte, DekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("generate dek: %w", err)
	}
	return dek, nil
}

// NewNonce returns a fresh 24-byte XChaCha20-Poly1305 nonce. Every call to
// AeadEncrypt must use a nonce generated here — nonces are never reused
// across ciphertext versions (see memory.Update).
func NewNonce() ([]byte, error) {
	nonce := make([]byte, RecordNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// AeadEncrypt seals plaintext under key (a 32-byte DEK) and nonce (24
// bytes), with optional associated data bound to the ciphertext but not
// encrypted (e.g. the record id, so a ciphertext can't be replayed under a
// different id).
func AeadEncrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AeadDecrypt opens a ciphertext produced by AeadEncrypt. Any bit flip in
// key, nonce, ciphertext, or aad causes ErrDecryptFailed.
func AeadDecrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", ErrDecryptFailed)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}
