package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// sealedBoxInfo is the HKDF "info" label binding derived keys to this
// specific construction, so a key can never be reused across protocols.
const sealedBoxInfo = "agentnet/sealed-dek/v1"

// SealDekFor encrypts dek for recipientPub using an ephemeral X25519
// keypair, HKDF-SHA256 key derivation, and XChaCha20-Poly1305 — the same
// shape as libsodium's crypto_box_seal: the output is
// [ephemeral public key (32B)][nonce (24B)][ciphertext], decryptable only by
// the holder of the matching private key, and authenticated end to end.
func SealDekFor(recipientPub [32]byte, dek []byte) ([]byte, error) {
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephPriv[0] &= 248
	ephPriv[31] &= 127
	ephPriv[31] |= 64

	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephPriv[:], recipientPub[:])
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}

	sealKey, err := deriveSealKey(shared, ephPub, recipientPub[:])
	if err != nil {
		return nil, err
	}

	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	ciphertext, err := AeadEncrypt(sealKey, nonce, dek, nil)
	if err != nil {
		return nil, fmt.Errorf("seal dek: %w", err)
	}

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ciphertext))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// OpenDek reverses SealDekFor using the owner's X25519 private key. Any
// tamper to the ephemeral key, nonce, or ciphertext bytes surfaces as
// ErrDecryptFailed.
func OpenDek(ownerPriv [32]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < 32+RecordNonceSize {
		return nil, fmt.Errorf("%w: sealed dek too short", ErrDecryptFailed)
	}
	ephPub := sealed[:32]
	nonce := sealed[32 : 32+RecordNonceSize]
	ciphertext := sealed[32+RecordNonceSize:]

	shared, err := curve25519.X25519(ownerPriv[:], ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: key agreement: %v", ErrDecryptFailed, err)
	}

	ownerPub, err := curve25519.X25519(ownerPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: derive public key: %v", ErrDecryptFailed, err)
	}

	sealKey, err := deriveSealKey(shared, ephPub, ownerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	dek, err := AeadDecrypt(sealKey, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	return dek, nil
}

func deriveSealKey(shared, ephPub, recipientPub []byte) ([]byte, error) {
	salt := append(append([]byte{}, ephPub...), recipientPub...)
	h := hkdf.New(sha256.New, shared, salt, []byte(sealedBoxInfo))
	key := make([]byte, DekSize)
	if _, err := h.Read(key); err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	return key, nil
}
