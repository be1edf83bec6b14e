package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/model"
)

// PutRecord upserts rec, keyed by (did, collection, rkey). A conflict on
// the (did, collection, rkey) UNIQUE index means the caller is updating an
// existing record (§4.4 "create-or-update"), not an error condition.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec model.Record) error {
	var updatedAt sql.NullTime
	if rec.UpdatedAt != nil {
		updatedAt = sql.NullTime{Time: *rec.UpdatedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, did, collection, rkey, ciphertext, encrypted_dek, nonce, public, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(did, collection, rkey) DO UPDATE SET
			ciphertext    = excluded.ciphertext,
			encrypted_dek = excluded.encrypted_dek,
			nonce         = excluded.nonce,
			public        = excluded.public,
			updated_at    = excluded.updated_at
	`, rec.ID, rec.DID, rec.Collection, rec.Rkey, rec.Ciphertext, rec.EncryptedDek, rec.Nonce, rec.Public, rec.CreatedAt, updatedAt)
	if err != nil {
		return fmt.Errorf("store: put record %q: %w", rec.CanonicalID(), err)
	}
	return nil
}

// GetRecord returns the single record addressed by (did, collection,
// rkey), excluding soft-deleted rows.
func (s *SQLiteStore) GetRecord(ctx context.Context, did, collection, rkey string) (model.Record, error) {
	rec := model.Record{DID: did, Collection: collection, Rkey: rkey}
	var updatedAt, deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ciphertext, encrypted_dek, nonce, public, created_at, updated_at, deleted_at
		FROM records
		WHERE did = ? AND collection = ? AND rkey = ? AND deleted_at IS NULL
	`, did, collection, rkey).Scan(
		&rec.ID, &rec.Ciphertext, &rec.EncryptedDek, &rec.Nonce, &rec.Public, &rec.CreatedAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, ErrNotFound
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("store: get record %q: %w", rec.CanonicalID(), err)
	}
	if updatedAt.Valid {
		rec.UpdatedAt = &updatedAt.Time
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}
	return rec, nil
}

// ListRecords returns every non-deleted record in (did, collection),
// newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, did, collection string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rkey, ciphertext, encrypted_dek, nonce, public, created_at, updated_at, deleted_at
		FROM records
		WHERE did = ? AND collection = ? AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, did, collection)
	if err != nil {
		return nil, fmt.Errorf("store: list records %q/%q: %w", did, collection, err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec := model.Record{DID: did, Collection: collection}
		var updatedAt, deletedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Rkey, &rec.Ciphertext, &rec.EncryptedDek, &rec.Nonce, &rec.Public, &rec.CreatedAt, &updatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		if updatedAt.Valid {
			rec.UpdatedAt = &updatedAt.Time
		}
		if deletedAt.Valid {
			rec.DeletedAt = &deletedAt.Time
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate records: %w", err)
	}
	return out, nil
}

// DeleteRecord soft-deletes the record, matching §4.4's tombstone semantics
// (deleted rows stay for share-revocation bookkeeping, just excluded from
// Get/List).
func (s *SQLiteStore) DeleteRecord(ctx context.Context, did, collection, rkey string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE records SET deleted_at = ?
		WHERE did = ? AND collection = ? AND rkey = ? AND deleted_at IS NULL
	`, time.Now().UTC(), did, collection, rkey)
	if err != nil {
		return fmt.Errorf("store: delete record %s/%s/%s: %w", did, collection, rkey, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ShareRecord grants recipientDID access to recordID by storing the DEK
// sealed to the recipient's public key. Re-sharing with the same recipient
// overwrites the prior seal (e.g. after a recipient key rotation).
func (s *SQLiteStore) ShareRecord(ctx context.Context, recordID, recipientDID string, encryptedDek []byte, sharedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_records (record_id, recipient_did, encrypted_dek, shared_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(record_id, recipient_did) DO UPDATE SET
			encrypted_dek = excluded.encrypted_dek,
			shared_at     = excluded.shared_at
	`, recordID, recipientDID, encryptedDek, sharedAt)
	if err != nil {
		return fmt.Errorf("store: share record %q with %q: %w", recordID, recipientDID, err)
	}
	return nil
}

// ListSharedWith returns every record shared with recipientDID.
func (s *SQLiteStore) ListSharedWith(ctx context.Context, recipientDID string) ([]model.SharedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, recipient_did, encrypted_dek, shared_at
		FROM shared_records
		WHERE recipient_did = ?
		ORDER BY shared_at DESC
	`, recipientDID)
	if err != nil {
		return nil, fmt.Errorf("store: list shared with %q: %w", recipientDID, err)
	}
	defer rows.Close()

	var out []model.SharedRecord
	for rows.Next() {
		var sr model.SharedRecord
		if err := rows.Scan(&sr.ID, &sr.RecordID, &sr.RecipientDID, &sr.EncryptedDek, &sr.SharedAt); err != nil {
			return nil, fmt.Errorf("store: scan shared record: %w", err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate shared records: %w", err)
	}
	return out, nil
}
