package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// JWK is a minimal JSON Web Key representation covering the two key types
// this package generates: Ed25519 (OKP, crv=Ed25519) and X25519 (OKP,
// crv=X25519). Both use base64url-no-padding encoding for x/d per RFC 8037.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d,omitempty"`
}

// SigningKeyPair holds an Ed25519 keypair used to sign records and messages.
type SigningKeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// EncryptionKeyPair holds an X25519 keypair used for key agreement when
// sealing DEKs for a recipient.
type EncryptionKeyPair struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// Identity bundles both keypairs generated for a newly minted agent.
type Identity struct {
	Sign SigningKeyPair
	Enc  EncryptionKeyPair
}

// GenerateIdentity creates a fresh Ed25519 signing keypair and a fresh X25519
// key-agreement keypair using a cryptographically secure RNG.
func GenerateIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("generate signing key: %w", err)
	}

	var encPriv [32]byte
	if _, err := rand.Read(encPriv[:]); err != nil {
		return Identity{}, fmt.Errorf("generate encryption key: %w", err)
	}
	// Clamp per RFC 7748 so the scalar is a valid X25519 private key.
	encPriv[0] &= 248
	encPriv[31] &= 127
	encPriv[31] |= 64

	encPub, err := curve25519.X25519(encPriv[:], curve25519.Basepoint)
	if err != nil {
		return Identity{}, fmt.Errorf("derive encryption public key: %w", err)
	}

	id := Identity{
		Sign: SigningKeyPair{PublicKey: pub, PrivateKey: priv},
	}
	copy(id.Enc.PrivateKey[:], encPriv[:])
	copy(id.Enc.PublicKey[:], encPub)
	return id, nil
}

// SigningPublicJWK exports the Ed25519 public key as a JWK.
func SigningPublicJWK(pub ed25519.PublicKey) JWK {
	return JWK{Kty: "OKP", Crv: "Ed25519", X: b64(pub)}
}

// SigningPrivateJWK exports the full Ed25519 keypair as a JWK including the
// private seed (d). Only ever persisted through the at-rest master-key
// wrapper in keystore.go/encrypt.go.
func SigningPrivateJWK(kp SigningKeyPair) JWK {
	seed := kp.PrivateKey.Seed()
	return JWK{Kty: "OKP", Crv: "Ed25519", X: b64(kp.PublicKey), D: b64(seed)}
}

// EncryptionPublicJWK exports the X25519 public key as a JWK.
func EncryptionPublicJWK(pub [32]byte) JWK {
	return JWK{Kty: "OKP", Crv: "X25519", X: b64(pub[:])}
}

// EncryptionPrivateJWK exports the full X25519 keypair as a JWK.
func EncryptionPrivateJWK(kp EncryptionKeyPair) JWK {
	return JWK{Kty: "OKP", Crv: "X25519", X: b64(kp.PublicKey[:]), D: b64(kp.PrivateKey[:])}
}

// SigningKeyPairFromJWK reconstructs a SigningKeyPair from a private JWK.
func SigningKeyPairFromJWK(jwk JWK) (SigningKeyPair, error) {
	seed, err := unb64(jwk.D)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return SigningKeyPair{}, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return SigningKeyPair{PublicKey: priv.Public().(ed25519.PublicKey), PrivateKey: priv}, nil
}

// EncryptionKeyPairFromJWK reconstructs an EncryptionKeyPair from a private JWK.
func EncryptionKeyPairFromJWK(jwk JWK) (EncryptionKeyPair, error) {
	d, err := unb64(jwk.D)
	if err != nil {
		return EncryptionKeyPair{}, fmt.Errorf("decode encryption private: %w", err)
	}
	if len(d) != 32 {
		return EncryptionKeyPair{}, fmt.Errorf("encryption private key must be 32 bytes, got %d", len(d))
	}
	x, err := unb64(jwk.X)
	if err != nil {
		return EncryptionKeyPair{}, fmt.Errorf("decode encryption public: %w", err)
	}
	if len(x) != 32 {
		return EncryptionKeyPair{}, fmt.Errorf("encryption public key must be 32 bytes, got %d", len(x))
	}
	var kp EncryptionKeyPair
	copy(kp.PrivateKey[:], d)
	copy(kp.PublicKey[:], x)
	return kp, nil
}

// SigningPublicKeyFromJWK extracts just the public half of a signing JWK,
// for the common case where only the public projection (no D) is held.
func SigningPublicKeyFromJWK(jwk JWK) (ed25519.PublicKey, error) {
	x, err := unb64(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("decode signing public: %w", err)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing public key must be %d bytes, got %d", ed25519.PublicKeySize, len(x))
	}
	return ed25519.PublicKey(x), nil
}

// EncryptionPublicKeyFromJWK extracts just the public half, for recipients
// whose private material we never hold.
func EncryptionPublicKeyFromJWK(jwk JWK) ([32]byte, error) {
	x, err := unb64(jwk.X)
	if err != nil {
		return [32]byte{}, fmt.Errorf("decode encryption public: %w", err)
	}
	if len(x) != 32 {
		return [32]byte{}, fmt.Errorf("encryption public key must be 32 bytes, got %d", len(x))
	}
	var pub [32]byte
	copy(pub[:], x)
	return pub, nil
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func unb64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
