// Package postgres is the alternate Store backend (§4.2: "no SQL dialect
// mandated"). It implements the same store.Store interface as the sqlite
// backend against a real second driver, using golang-migrate instead of the
// embedded migration runner store.New uses — pgx's driver doesn't need
// cgo, so golang-migrate's database/pgx and source/iofs drivers apply
// cleanly here, unlike the sqlite path.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a postgres-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, applies any pending golang-migrate migration, and
// returns a ready Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "pgx5://"+trimScheme(dsn))
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// trimScheme strips a leading "postgres://" or "postgresql://" from dsn so
// it can be re-prefixed with the "pgx5://" scheme golang-migrate's pgx
// driver registers under.
func trimScheme(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if len(dsn) > len(prefix) && dsn[:len(prefix)] == prefix {
			return dsn[len(prefix):]
		}
	}
	return dsn
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// SchemaVersion reports golang-migrate's own version bookkeeping table.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx, "SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *Store) CreateAgent(ctx context.Context, did, name string, identityBlob []byte, createdAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (did, name, identity_blob, created_at) VALUES ($1, $2, $3, $4)
	`, did, name, identityBlob, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: create agent %q: %w", name, err)
	}
	return nil
}

func (s *Store) GetAgentIdentity(ctx context.Context, did string) ([]byte, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, "SELECT identity_blob FROM agents WHERE did = $1", did).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get agent identity %q: %w", did, err)
	}
	return blob, nil
}

func (s *Store) ResolveName(ctx context.Context, name string) (string, error) {
	var did string
	err := s.pool.QueryRow(ctx, "SELECT did FROM agents WHERE name = $1", name).Scan(&did)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: resolve name %q: %w", name, err)
	}
	return did, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]model.AgentRegistryRow, error) {
	rows, err := s.pool.Query(ctx, "SELECT name, did, created_at FROM agents ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var out []model.AgentRegistryRow
	for rows.Next() {
		var r model.AgentRegistryRow
		if err := rows.Scan(&r.Name, &r.DID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan agent row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAgent(ctx context.Context, did string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM agents WHERE did = $1", did)
	if err != nil {
		return fmt.Errorf("postgres: delete agent %q: %w", did, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetConfig(ctx context.Context, did string) (model.AgentConfig, bool, error) {
	var raw string
	err := s.pool.QueryRow(ctx, "SELECT config_json FROM configs WHERE did = $1", did).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AgentConfig{}, false, nil
	}
	if err != nil {
		return model.AgentConfig{}, false, fmt.Errorf("postgres: get config %q: %w", did, err)
	}
	var cfg model.AgentConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return model.AgentConfig{}, false, fmt.Errorf("postgres: decode config %q: %w", did, err)
	}
	return cfg, true, nil
}

func (s *Store) SetConfig(ctx context.Context, did string, cfg model.AgentConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: encode config %q: %w", did, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO configs (did, config_json, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT(did) DO UPDATE SET config_json = excluded.config_json, updated_at = excluded.updated_at
	`, did, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: set config %q: %w", did, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, did string) (model.Session, bool, error) {
	var raw string
	err := s.pool.QueryRow(ctx, "SELECT session_json FROM sessions WHERE did = $1", did).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("postgres: get session %q: %w", did, err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return model.Session{}, false, fmt.Errorf("postgres: decode session %q: %w", did, err)
	}
	return sess, true, nil
}

func (s *Store) SetSession(ctx context.Context, did string, sess model.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("postgres: encode session %q: %w", did, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (did, session_json, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT(did) DO UPDATE SET session_json = excluded.session_json, updated_at = excluded.updated_at
	`, did, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: set session %q: %w", did, err)
	}
	return nil
}

func (s *Store) GetLoopState(ctx context.Context, did string) (model.LoopState, bool, error) {
	var ls model.LoopState
	var nextAlarm *int64
	err := s.pool.QueryRow(ctx,
		"SELECT loop_running, loop_count, next_alarm_at FROM loop_state WHERE did = $1", did,
	).Scan(&ls.LoopRunning, &ls.LoopCount, &nextAlarm)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LoopState{}, false, nil
	}
	if err != nil {
		return model.LoopState{}, false, fmt.Errorf("postgres: get loop state %q: %w", did, err)
	}
	ls.NextAlarmAt = nextAlarm
	return ls, true, nil
}

func (s *Store) SetLoopState(ctx context.Context, did string, ls model.LoopState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO loop_state (did, loop_running, loop_count, next_alarm_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(did) DO UPDATE SET
			loop_running  = excluded.loop_running,
			loop_count    = excluded.loop_count,
			next_alarm_at = excluded.next_alarm_at,
			updated_at    = excluded.updated_at
	`, did, ls.LoopRunning, ls.LoopCount, ls.NextAlarmAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: set loop state %q: %w", did, err)
	}
	return nil
}

func (s *Store) PutRecord(ctx context.Context, rec model.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO records (id, did, collection, rkey, ciphertext, encrypted_dek, nonce, public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(did, collection, rkey) DO UPDATE SET
			ciphertext    = excluded.ciphertext,
			encrypted_dek = excluded.encrypted_dek,
			nonce         = excluded.nonce,
			public        = excluded.public,
			updated_at    = excluded.updated_at
	`, rec.ID, rec.DID, rec.Collection, rec.Rkey, rec.Ciphertext, rec.EncryptedDek, rec.Nonce, rec.Public, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put record %q: %w", rec.CanonicalID(), err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, did, collection, rkey string) (model.Record, error) {
	rec := model.Record{DID: did, Collection: collection, Rkey: rkey}
	err := s.pool.QueryRow(ctx, `
		SELECT id, ciphertext, encrypted_dek, nonce, public, created_at, updated_at, deleted_at
		FROM records
		WHERE did = $1 AND collection = $2 AND rkey = $3 AND deleted_at IS NULL
	`, did, collection, rkey).Scan(
		&rec.ID, &rec.Ciphertext, &rec.EncryptedDek, &rec.Nonce, &rec.Public, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, store.ErrNotFound
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("postgres: get record %q: %w", rec.CanonicalID(), err)
	}
	return rec, nil
}

func (s *Store) ListRecords(ctx context.Context, did, collection string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rkey, ciphertext, encrypted_dek, nonce, public, created_at, updated_at, deleted_at
		FROM records
		WHERE did = $1 AND collection = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, did, collection)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records %q/%q: %w", did, collection, err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec := model.Record{DID: did, Collection: collection}
		if err := rows.Scan(&rec.ID, &rec.Rkey, &rec.Ciphertext, &rec.EncryptedDek, &rec.Nonce, &rec.Public, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRecord(ctx context.Context, did, collection, rkey string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE records SET deleted_at = $1
		WHERE did = $2 AND collection = $3 AND rkey = $4 AND deleted_at IS NULL
	`, time.Now().UTC(), did, collection, rkey)
	if err != nil {
		return fmt.Errorf("postgres: delete record %s/%s/%s: %w", did, collection, rkey, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ShareRecord(ctx context.Context, recordID, recipientDID string, encryptedDek []byte, sharedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shared_records (record_id, recipient_did, encrypted_dek, shared_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(record_id, recipient_did) DO UPDATE SET
			encrypted_dek = excluded.encrypted_dek,
			shared_at     = excluded.shared_at
	`, recordID, recipientDID, encryptedDek, sharedAt)
	if err != nil {
		return fmt.Errorf("postgres: share record %q with %q: %w", recordID, recipientDID, err)
	}
	return nil
}

func (s *Store) ListSharedWith(ctx context.Context, recipientDID string) ([]model.SharedRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, record_id, recipient_did, encrypted_dek, shared_at
		FROM shared_records WHERE recipient_did = $1 ORDER BY shared_at DESC
	`, recipientDID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list shared with %q: %w", recipientDID, err)
	}
	defer rows.Close()

	var out []model.SharedRecord
	for rows.Next() {
		var sr model.SharedRecord
		if err := rows.Scan(&sr.ID, &sr.RecordID, &sr.RecipientDID, &sr.EncryptedDek, &sr.SharedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan shared record: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

var _ store.Store = (*Store)(nil)
