// Package memory implements the envelope-encryption contract over the
// record store (§4.4): write/read/update/share/list, plus the
// session-archival pipeline that runs at the end of every prompt turn.
// Lexicon validation happens upstream (the actor/gateway call
// lexicon.Validate before handing a body to Store); memory treats record
// bodies as opaque bytes once validated, exactly as §4.4 specifies.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"maunium.net/go/mautrix/crypto/canonicaljson"

	"github.com/agentnet/kernel/common/crypto"
	"github.com/agentnet/kernel/common/rkey"
	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

// Service implements the memory subsystem for one owning agent. Every
// method is scoped to ownerDID; sharing and shared-read cross that
// boundary explicitly via the recipient/viewer DID arguments §4.4 defines.
type Service struct {
	store    store.Store
	identity *identity.Service
}

// New builds a Service over st, using idSvc to load the owner's encryption
// keypair for seal/open operations.
func New(st store.Store, idSvc *identity.Service) *Service {
	return &Service{store: st, identity: idSvc}
}

// StoreOptions controls the write path's privacy mode.
type StoreOptions struct {
	Public bool
}

// Store canonicalizes body and writes it as a new record in collection,
// owned by ownerDID, per §4.4's write path. Returns the new record's
// canonical id ("<did>/<collection>/<rkey>").
func (s *Service) Store(ctx context.Context, ownerDID, collection string, body map[string]any, opts StoreOptions) (string, error) {
	plaintext, err := canonicalize(body)
	if err != nil {
		return "", fmt.Errorf("%w: canonicalize record: %v", apierr.ErrInvalidInput, err)
	}

	rk, err := rkey.New()
	if err != nil {
		return "", fmt.Errorf("memory: generate rkey: %w", err)
	}

	rec := model.Record{
		DID:        ownerDID,
		Collection: collection,
		Rkey:       rk,
		Public:     opts.Public,
		CreatedAt:  time.Now().UTC(),
	}
	rec.ID = rec.CanonicalID()

	if opts.Public {
		nonce, err := crypto.NewNonce()
		if err != nil {
			return "", fmt.Errorf("memory: generate nonce: %w", err)
		}
		rec.Ciphertext = plaintext
		rec.Nonce = nonce
		rec.EncryptedDek = nil
	} else {
		ownerPub, err := s.ownerEncPub(ctx, ownerDID)
		if err != nil {
			return "", err
		}
		dek, err := crypto.GenerateDek()
		if err != nil {
			return "", fmt.Errorf("memory: generate dek: %w", err)
		}
		nonce, err := crypto.NewNonce()
		if err != nil {
			return "", fmt.Errorf("memory: generate nonce: %w", err)
		}
		ciphertext, err := crypto.AeadEncrypt(dek, nonce, plaintext, []byte(rec.ID))
		if err != nil {
			return "", fmt.Errorf("memory: encrypt record: %w", err)
		}
		sealedDek, err := crypto.SealDekFor(ownerPub, dek)
		if err != nil {
			return "", fmt.Errorf("memory: seal dek: %w", err)
		}
		rec.Ciphertext = ciphertext
		rec.Nonce = nonce
		rec.EncryptedDek = sealedDek
	}

	if err := s.store.PutRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("memory: put record: %w", err)
	}
	return rec.ID, nil
}

// Load fetches and decrypts the record at (ownerDID, collection, rkey).
func (s *Service) Load(ctx context.Context, ownerDID, collection, rk string) (map[string]any, error) {
	rec, err := s.store.GetRecord(ctx, ownerDID, collection, rk)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: record %s/%s/%s", apierr.ErrNotFound, ownerDID, collection, rk)
		}
		return nil, fmt.Errorf("memory: get record: %w", err)
	}
	return s.decryptRecord(ctx, ownerDID, rec)
}

// List returns every non-deleted record owned by ownerDID in collection,
// decrypted.
func (s *Service) List(ctx context.Context, ownerDID, collection string) ([]map[string]any, error) {
	recs, err := s.store.ListRecords(ctx, ownerDID, collection)
	if err != nil {
		return nil, fmt.Errorf("memory: list records: %w", err)
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		body, err := s.decryptRecord(ctx, ownerDID, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, nil
}

// Update re-encrypts body under a new DEK and nonce (never reused across
// versions, per §4.4) and overwrites the existing row.
func (s *Service) Update(ctx context.Context, ownerDID, collection, rk string, body map[string]any) error {
	existing, err := s.store.GetRecord(ctx, ownerDID, collection, rk)
	if err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("%w: record %s/%s/%s", apierr.ErrNotFound, ownerDID, collection, rk)
		}
		return fmt.Errorf("memory: get record for update: %w", err)
	}

	plaintext, err := canonicalize(body)
	if err != nil {
		return fmt.Errorf("%w: canonicalize record: %v", apierr.ErrInvalidInput, err)
	}

	rec := existing
	now := time.Now().UTC()
	rec.UpdatedAt = &now

	if existing.Public {
		nonce, err := crypto.NewNonce()
		if err != nil {
			return fmt.Errorf("memory: generate nonce: %w", err)
		}
		rec.Ciphertext = plaintext
		rec.Nonce = nonce
	} else {
		ownerPub, err := s.ownerEncPub(ctx, ownerDID)
		if err != nil {
			return err
		}
		dek, err := crypto.GenerateDek()
		if err != nil {
			return fmt.Errorf("memory: generate dek: %w", err)
		}
		nonce, err := crypto.NewNonce()
		if err != nil {
			return fmt.Errorf("memory: generate nonce: %w", err)
		}
		ciphertext, err := crypto.AeadEncrypt(dek, nonce, plaintext, []byte(rec.ID))
		if err != nil {
			return fmt.Errorf("memory: encrypt record: %w", err)
		}
		sealedDek, err := crypto.SealDekFor(ownerPub, dek)
		if err != nil {
			return fmt.Errorf("memory: seal dek: %w", err)
		}
		rec.Ciphertext = ciphertext
		rec.Nonce = nonce
		rec.EncryptedDek = sealedDek
	}

	if err := s.store.PutRecord(ctx, rec); err != nil {
		return fmt.Errorf("memory: update record: %w", err)
	}
	return nil
}

// Delete soft-deletes the record.
func (s *Service) Delete(ctx context.Context, ownerDID, collection, rk string) error {
	if err := s.store.DeleteRecord(ctx, ownerDID, collection, rk); err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("%w: record %s/%s/%s", apierr.ErrNotFound, ownerDID, collection, rk)
		}
		return fmt.Errorf("memory: delete record: %w", err)
	}
	return nil
}

// Share grants recipientDID access to the record addressed by ownerDID,
// collection and rk (the parts of its "<did>/<collection>/<rkey>" id), sealing its DEK to the
// recipient's encryption public key. Idempotent: re-sharing overwrites the
// prior seal.
func (s *Service) Share(ctx context.Context, ownerDID, collection, rk, recipientDID string) error {
	rec, err := s.store.GetRecord(ctx, ownerDID, collection, rk)
	if err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("%w: record %s/%s/%s", apierr.ErrNotFound, ownerDID, collection, rk)
		}
		return fmt.Errorf("memory: get record to share: %w", err)
	}
	if rec.Public {
		return fmt.Errorf("%w: public records do not need sharing", apierr.ErrInvalidInput)
	}

	ownerPriv, err := s.ownerEncPriv(ctx, ownerDID)
	if err != nil {
		return err
	}
	dek, err := crypto.OpenDek(ownerPriv, rec.EncryptedDek)
	if err != nil {
		return fmt.Errorf("%w: open owner dek: %v", apierr.ErrDecryptFailed, err)
	}

	recipientPub, err := s.ownerEncPub(ctx, recipientDID)
	if err != nil {
		return err
	}
	sealedDek, err := crypto.SealDekFor(recipientPub, dek)
	if err != nil {
		return fmt.Errorf("memory: seal dek for recipient: %w", err)
	}

	if err := s.store.ShareRecord(ctx, rec.ID, recipientDID, sealedDek, time.Now().UTC()); err != nil {
		return fmt.Errorf("memory: share record: %w", err)
	}
	return nil
}

// LoadShared decrypts a record shared with viewerDID, using viewerDID's own
// encryption private key to open the sealed DEK stored in the share row.
func (s *Service) LoadShared(ctx context.Context, ownerDID, collection, rk, viewerDID string) (map[string]any, error) {
	rec, err := s.store.GetRecord(ctx, ownerDID, collection, rk)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: record %s/%s/%s", apierr.ErrNotFound, ownerDID, collection, rk)
		}
		return nil, fmt.Errorf("memory: get record: %w", err)
	}

	shared, err := s.store.ListSharedWith(ctx, viewerDID)
	if err != nil {
		return nil, fmt.Errorf("memory: list shares: %w", err)
	}
	var sealedDek []byte
	for _, sr := range shared {
		if sr.RecordID == rec.ID {
			sealedDek = sr.EncryptedDek
			break
		}
	}
	if sealedDek == nil {
		return nil, fmt.Errorf("%w: record %s not shared with %s", apierr.ErrNotFound, rec.ID, viewerDID)
	}

	viewerPriv, err := s.ownerEncPriv(ctx, viewerDID)
	if err != nil {
		return nil, err
	}
	dek, err := crypto.OpenDek(viewerPriv, sealedDek)
	if err != nil {
		return nil, fmt.Errorf("%w: open shared dek: %v", apierr.ErrDecryptFailed, err)
	}
	plaintext, err := crypto.AeadDecrypt(dek, rec.Nonce, rec.Ciphertext, []byte(rec.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt shared record: %v", apierr.ErrDecryptFailed, err)
	}
	var body map[string]any
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return nil, fmt.Errorf("memory: decode shared record: %w", err)
	}
	return body, nil
}

// ListShared returns every record shared with viewerDID, across every
// owner, decrypted with viewerDID's own encryption key.
func (s *Service) ListShared(ctx context.Context, viewerDID string) ([]map[string]any, error) {
	shared, err := s.store.ListSharedWith(ctx, viewerDID)
	if err != nil {
		return nil, fmt.Errorf("memory: list shares: %w", err)
	}
	viewerPriv, err := s.ownerEncPriv(ctx, viewerDID)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(shared))
	for _, sr := range shared {
		ownerDID, collection, rk, ok := model.SplitCanonicalID(sr.RecordID)
		if !ok {
			continue
		}
		rec, err := s.store.GetRecord(ctx, ownerDID, collection, rk)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("memory: get shared record: %w", err)
		}
		dek, err := crypto.OpenDek(viewerPriv, sr.EncryptedDek)
		if err != nil {
			return nil, fmt.Errorf("%w: open shared dek: %v", apierr.ErrDecryptFailed, err)
		}
		plaintext, err := crypto.AeadDecrypt(dek, rec.Nonce, rec.Ciphertext, []byte(rec.ID))
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt shared record: %v", apierr.ErrDecryptFailed, err)
		}
		var body map[string]any
		if err := json.Unmarshal(plaintext, &body); err != nil {
			return nil, fmt.Errorf("memory: decode shared record: %w", err)
		}
		out = append(out, body)
	}
	return out, nil
}

func (s *Service) decryptRecord(ctx context.Context, ownerDID string, rec model.Record) (map[string]any, error) {
	var plaintext []byte
	if rec.Public {
		plaintext = rec.Ciphertext
	} else {
		ownerPriv, err := s.ownerEncPriv(ctx, ownerDID)
		if err != nil {
			return nil, err
		}
		dek, err := crypto.OpenDek(ownerPriv, rec.EncryptedDek)
		if err != nil {
			return nil, fmt.Errorf("%w: open dek: %v", apierr.ErrDecryptFailed, err)
		}
		plaintext, err = crypto.AeadDecrypt(dek, rec.Nonce, rec.Ciphertext, []byte(rec.ID))
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt record: %v", apierr.ErrDecryptFailed, err)
		}
	}
	var body map[string]any
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return nil, fmt.Errorf("memory: decode record: %w", err)
	}
	return body, nil
}

func (s *Service) ownerEncPub(ctx context.Context, did string) ([32]byte, error) {
	ident, err := s.identity.Load(ctx, did)
	if err != nil {
		return [32]byte{}, err
	}
	jwk, err := decodeJWK(ident.EncryptionKey.PublicJWK)
	if err != nil {
		return [32]byte{}, fmt.Errorf("memory: decode owner encryption key: %w", err)
	}
	pub, err := crypto.EncryptionPublicKeyFromJWK(jwk)
	if err != nil {
		return [32]byte{}, fmt.Errorf("memory: decode owner encryption key: %w", err)
	}
	return pub, nil
}

func (s *Service) ownerEncPriv(ctx context.Context, did string) ([32]byte, error) {
	ident, err := s.identity.Load(ctx, did)
	if err != nil {
		return [32]byte{}, err
	}
	jwk, err := decodeJWK(ident.EncryptionKey.PrivateJWK)
	if err != nil {
		return [32]byte{}, fmt.Errorf("memory: decode owner encryption key: %w", err)
	}
	kp, err := crypto.EncryptionKeyPairFromJWK(jwk)
	if err != nil {
		return [32]byte{}, fmt.Errorf("memory: decode owner encryption key: %w", err)
	}
	return kp.PrivateKey, nil
}

func decodeJWK(v any) (crypto.JWK, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return crypto.JWK{}, err
	}
	var jwk crypto.JWK
	if err := json.Unmarshal(b, &jwk); err != nil {
		return crypto.JWK{}, err
	}
	return jwk, nil
}

// canonicalize serializes body to UTF-8 JSON per §4.4 step 1 ("Canonicalize
// record to UTF-8 JSON"), using Matrix's canonical-JSON rules (sorted keys,
// no insignificant whitespace, no floats) so two independent readers of the
// same plaintext always reproduce the identical byte sequence the AEAD tag
// was computed over.
func canonicalize(body map[string]any) ([]byte, error) {
	return canonicaljson.Marshal(body)
}
