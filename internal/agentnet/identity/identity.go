// Package identity mints and persists per-agent DIDs and key material, and
// resolves peer public keys through a directory client. The at-rest
// wrapping of the durable identity blob reuses the teacher's
// common/crypto.Encrypt/Decrypt (AES-256-GCM over the master key); minting
// itself is new, grounded on common/crypto/identity.go's JWK-shaped keypair
// generation.
package identity

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentnet/kernel/common/crypto"
	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

// Service mints, persists, and loads agent identities.
type Service struct {
	store     store.Store
	masterKey []byte
}

// New builds a Service backed by st, wrapping identity blobs at rest with
// masterKey (see crypto.LoadMasterKey).
func New(st store.Store, masterKey []byte) *Service {
	return &Service{store: st, masterKey: masterKey}
}

// Mint generates a fresh Identity, derives its DID from a random instance
// id, persists the wrapped blob, and registers name in the global registry.
// Returns apierr.ErrConflict if name is already taken.
func (s *Service) Mint(ctx context.Context, name string) (model.Identity, error) {
	instanceID, err := newInstanceID()
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity: generate instance id: %w", err)
	}
	did := crypto.DeriveDID(instanceID)

	kp, err := crypto.GenerateIdentity()
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity: generate keys: %w", err)
	}

	now := time.Now()
	ident := model.Identity{
		Version:   1,
		DID:       did,
		CreatedAt: now.UnixMilli(),
		SigningKey: model.KeyMaterial{
			Algorithm:  "Ed25519",
			PublicJWK:  crypto.SigningPublicJWK(kp.Sign.PublicKey),
			PrivateJWK: crypto.SigningPrivateJWK(kp.Sign),
		},
		EncryptionKey: model.KeyMaterial{
			Algorithm:  "X25519",
			PublicJWK:  crypto.EncryptionPublicJWK(kp.Enc.PublicKey),
			PrivateJWK: crypto.EncryptionPrivateJWK(kp.Enc),
		},
	}

	blob, err := json.Marshal(ident)
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity: encode blob: %w", err)
	}
	wrapped, err := crypto.Encrypt(s.masterKey, blob)
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity: wrap blob: %w", err)
	}

	if err := s.store.CreateAgent(ctx, did, name, wrapped, now); err != nil {
		return model.Identity{}, fmt.Errorf("%w: name %q already registered: %v", apierr.ErrConflict, name, err)
	}

	return ident, nil
}

// Load decrypts and returns the full identity (including private key
// material) for did. Only the actor owning did should ever see the private
// keys; callers outside the actor boundary must use PublicKeys instead.
func (s *Service) Load(ctx context.Context, did string) (model.Identity, error) {
	wrapped, err := s.store.GetAgentIdentity(ctx, did)
	if err != nil {
		if err == store.ErrNotFound {
			return model.Identity{}, fmt.Errorf("%w: agent %q", apierr.ErrNotFound, did)
		}
		return model.Identity{}, fmt.Errorf("identity: load %q: %w", did, err)
	}
	blob, err := crypto.Decrypt(s.masterKey, wrapped)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: unwrap identity %q: %v", apierr.ErrDecryptFailed, did, err)
	}
	var ident model.Identity
	if err := json.Unmarshal(blob, &ident); err != nil {
		return model.Identity{}, fmt.Errorf("identity: decode %q: %w", did, err)
	}
	return ident, nil
}

// PublicKeys returns only the public projection of did's identity, the
// shape exposed by GET /identity and the key directory.
func (s *Service) PublicKeys(ctx context.Context, did string) (model.PublicKeys, error) {
	ident, err := s.Load(ctx, did)
	if err != nil {
		return model.PublicKeys{}, err
	}
	// PublicJWK round-trips through json.Unmarshal into model.Identity as a
	// generic map (the field type is `any`); re-marshal/decode into the
	// concrete crypto.JWK shape before handing it to the key-material
	// decoders.
	var encJWK, signJWK crypto.JWK
	if b, err := json.Marshal(ident.EncryptionKey.PublicJWK); err == nil {
		_ = json.Unmarshal(b, &encJWK)
	}
	if b, err := json.Marshal(ident.SigningKey.PublicJWK); err == nil {
		_ = json.Unmarshal(b, &signJWK)
	}

	encPub, err := crypto.EncryptionPublicKeyFromJWK(encJWK)
	if err != nil {
		return model.PublicKeys{}, fmt.Errorf("identity: decode encryption key %q: %w", did, err)
	}
	signPub, err := crypto.SigningPublicKeyFromJWK(signJWK)
	if err != nil {
		return model.PublicKeys{}, fmt.Errorf("identity: decode signing key %q: %w", did, err)
	}

	return model.PublicKeys{
		Encryption: crypto.PublicKeyToMultibase(encPub[:]),
		Signing:    crypto.PublicKeyToMultibase(signPub),
	}, nil
}

// Resolve looks up the DID registered under name.
func (s *Service) Resolve(ctx context.Context, name string) (string, error) {
	did, err := s.store.ResolveName(ctx, name)
	if err != nil {
		if err == store.ErrNotFound {
			return "", fmt.Errorf("%w: name %q", apierr.ErrNotFound, name)
		}
		return "", fmt.Errorf("identity: resolve %q: %w", name, err)
	}
	return did, nil
}

// List returns the full name->DID registry.
func (s *Service) List(ctx context.Context) ([]model.AgentRegistryRow, error) {
	rows, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: list: %w", err)
	}
	return rows, nil
}

// Delete removes an agent's registry row and cascades its durable state.
func (s *Service) Delete(ctx context.Context, did string) error {
	if err := s.store.DeleteAgent(ctx, did); err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("%w: agent %q", apierr.ErrNotFound, did)
		}
		return fmt.Errorf("identity: delete %q: %w", did, err)
	}
	return nil
}

func newInstanceID() (string, error) {
	var buf [16]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
